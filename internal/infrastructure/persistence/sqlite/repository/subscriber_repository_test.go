package repository

import (
	"context"
	"testing"

	"proofwatch/internal/infrastructure/persistence/sqlite/model"
	"proofwatch/internal/ports"
)

func strPtr(s string) *string {
	return &s
}

func TestSubscriberUpsertCreatesAndUpdatesOneRow(t *testing.T) {
	db := setupDB(t)
	repo := NewSubscriberRepository(db)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, ports.SubscriberUpsert{
		ChatID:        42,
		UserID:        7,
		Username:      strPtr("alice"),
		NotifySuccess: true,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !first.IsActive || !first.NotifySuccess || first.NotifyFailure {
		t.Fatalf("Upsert() flags = %+v", first)
	}

	second, err := repo.Upsert(ctx, ports.SubscriberUpsert{
		ChatID:        42,
		UserID:        7,
		Username:      strPtr("alice"),
		NotifySuccess: true,
		NotifyFailure: true,
		ProverFilter:  strPtr("0xaa"),
	})
	if err != nil {
		t.Fatalf("Upsert(again) error = %v", err)
	}
	if second.SubscriberID != first.SubscriberID {
		t.Fatalf("Upsert() created a second row: %d != %d", second.SubscriberID, first.SubscriberID)
	}
	if !second.NotifyFailure || second.ProverFilter == nil || *second.ProverFilter != "0xaa" {
		t.Fatalf("Upsert() did not update preferences: %+v", second)
	}
	if second.SubscribedAt != first.SubscribedAt {
		t.Fatalf("Upsert() must not rewrite subscribed_at: %q != %q", second.SubscribedAt, first.SubscribedAt)
	}

	var count int64
	if err := db.Model(&model.Subscriber{}).Where("chat_id = ?", int64(42)).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row for chat 42, got %d", count)
	}
}

func TestSubscriberUpsertReactivates(t *testing.T) {
	repo := NewSubscriberRepository(setupDB(t))
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, ports.SubscriberUpsert{ChatID: 9, UserID: 9, NotifySuccess: true}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.SetActive(ctx, 9, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	sub, err := repo.Upsert(ctx, ports.SubscriberUpsert{ChatID: 9, UserID: 9, NotifySuccess: true})
	if err != nil {
		t.Fatalf("Upsert(resubscribe) error = %v", err)
	}
	if !sub.IsActive {
		t.Fatal("Upsert() must reactivate a soft-deleted subscriber")
	}
}

func TestSubscriberSetActiveUnknownChat(t *testing.T) {
	repo := NewSubscriberRepository(setupDB(t))

	if err := repo.SetActive(context.Background(), 123456, false); err != ports.ErrSubscriberNotFound {
		t.Fatalf("SetActive(absent) error = %v, want ErrSubscriberNotFound", err)
	}
}

func TestSubscriberListActiveExcludesDeactivated(t *testing.T) {
	repo := NewSubscriberRepository(setupDB(t))
	ctx := context.Background()

	for _, chatID := range []int64{1, 2, 3} {
		if _, err := repo.Upsert(ctx, ports.SubscriberUpsert{ChatID: chatID, UserID: chatID, NotifySuccess: true}); err != nil {
			t.Fatalf("Upsert(%d) error = %v", chatID, err)
		}
	}
	if err := repo.SetActive(ctx, 2, false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActive() len = %d", len(active))
	}
	for _, sub := range active {
		if sub.ChatID == 2 {
			t.Fatal("ListActive() returned a deactivated subscriber")
		}
	}
}

func TestSubscriberGetByChatIDNotFound(t *testing.T) {
	repo := NewSubscriberRepository(setupDB(t))

	if _, err := repo.GetByChatID(context.Background(), 404); err != ports.ErrSubscriberNotFound {
		t.Fatalf("GetByChatID(absent) error = %v, want ErrSubscriberNotFound", err)
	}
}
