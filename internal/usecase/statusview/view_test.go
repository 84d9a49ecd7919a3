package statusview

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"proofwatch/internal/infrastructure/persistence/sqlite/model"
	"proofwatch/internal/infrastructure/persistence/sqlite/repository"
	"proofwatch/internal/ports"
)

func TestSnapshotListsSubscribersAndEvents(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "status.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Event{}, &model.Subscriber{}, &model.Delivery{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	subs := repository.NewSubscriberRepository(db)
	events := repository.NewEventRepository(db)
	ledger := repository.NewDeliveryLedger(db)
	ctx := context.Background()

	sub, err := subs.Upsert(ctx, ports.SubscriberUpsert{ChatID: 42, UserID: 1, NotifySuccess: true})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	ev, _, err := events.Create(ctx, ports.EventCreate{
		Prover: "0xaa42", Result: true, Timestamp: 1700000000, BlockNumber: 123, TxHash: "0x01",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := ledger.Record(ctx, sub.SubscriberID, ev.EventID); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	out, err := Snapshot(ctx, subs, events, ledger)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	for _, want := range []string{"chat 42", "deliveries=1", "block 123", "success", "0xaa42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("snapshot missing %q:\n%s", want, out)
		}
	}
}

func TestSnapshotEmptyDatabase(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "status.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Event{}, &model.Subscriber{}, &model.Delivery{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	out, err := Snapshot(context.Background(),
		repository.NewSubscriberRepository(db),
		repository.NewEventRepository(db),
		repository.NewDeliveryLedger(db),
	)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !strings.Contains(out, "none") {
		t.Fatalf("empty snapshot should say none:\n%s", out)
	}
}
