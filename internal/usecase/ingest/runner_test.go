package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"proofwatch/internal/infrastructure/cache"
	"proofwatch/internal/infrastructure/persistence/sqlite/model"
	"proofwatch/internal/infrastructure/persistence/sqlite/repository"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
)

type fakeChain struct {
	mu         sync.Mutex
	latest     uint64
	logs       map[string][]ports.RawLog
	requests   []string
	tsFailures map[uint64]bool
}

func newFakeChain(latest uint64) *fakeChain {
	return &fakeChain{
		latest:     latest,
		logs:       map[string][]ports.RawLog{},
		tsFailures: map[uint64]bool{},
	}
}

func (c *fakeChain) failTimestamp(block uint64, failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tsFailures[block] = failing
}

func rangeKey(from, to uint64) string {
	return fmt.Sprintf("%d-%d", from, to)
}

func (c *fakeChain) addLogs(from, to uint64, logs ...ports.RawLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[rangeKey(from, to)] = logs
}

func (c *fakeChain) LatestBlock(context.Context) (uint64, error) {
	return c.latest, nil
}

func (c *fakeChain) Logs(_ context.Context, from, to uint64) ([]ports.RawLog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := rangeKey(from, to)
	c.requests = append(c.requests, key)
	return c.logs[key], nil
}

func (c *fakeChain) SubscribeLogs(ctx context.Context, _ ports.LogHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeChain) BlockTimestamp(_ context.Context, blockNumber uint64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tsFailures[blockNumber] {
		return 0, fmt.Errorf("node unavailable for block %d", blockNumber)
	}
	return int64(1700000000 + blockNumber), nil
}

func (c *fakeChain) Close() error {
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []string
}

func (n *recordingNotifier) NotifyEvent(_ context.Context, ev ports.EventCreate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, ev.TxHash)
	return nil
}

func setupRunner(t *testing.T, chain *fakeChain, cfg Config) (*Runner, *repository.EventRepository, *recordingNotifier) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "indexer.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.Event{}, &model.NotifyKV{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	events := repository.NewEventRepository(db)
	notifier := &recordingNotifier{}
	runner := NewRunner(events, chain, notifier, cache.NewSQLiteCache(db), metric.New(), cfg)
	return runner, events, notifier
}

func proofLog(block uint64, txHash string) ports.RawLog {
	return ports.RawLog{
		Topics: []string{
			"0xsig", "0x01", "0x02",
			"0x000000000000000000000000aabbccddeeff00112233445566778899aabbccdd",
		},
		Data:        "0x01",
		BlockNumber: block,
		TxHash:      txHash,
	}
}

func TestBackfillWalksChunksAndAdvancesCursor(t *testing.T) {
	chain := newFakeChain(25000)
	chain.addLogs(0, 9999, proofLog(5000, "0x01"))
	chain.addLogs(20000, 25000, proofLog(21000, "0x02"))
	runner, events, notifier := setupRunner(t, chain, Config{ChunkSize: 10000})
	ctx := context.Background()

	if err := runner.Backfill(ctx); err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}

	want := []string{"0-9999", "10000-19999", "20000-25000"}
	if strings.Join(chain.requests, ",") != strings.Join(want, ",") {
		t.Fatalf("requested ranges = %v, want %v", chain.requests, want)
	}

	stored, err := events.List(ctx, ports.EventFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored events = %d", len(stored))
	}
	if stored[0].Timestamp != 1700021000 {
		t.Fatalf("block timestamp not applied: %d", stored[0].Timestamp)
	}
	if len(notifier.seen) != 2 {
		t.Fatalf("notified events = %d", len(notifier.seen))
	}

	// The cursor is at the head now; a second pass requests nothing.
	chain.requests = nil
	if err := runner.Backfill(ctx); err != nil {
		t.Fatalf("Backfill(second) error = %v", err)
	}
	if len(chain.requests) != 0 {
		t.Fatalf("second backfill requested %v", chain.requests)
	}
}

func TestBackfillSkipsMalformedAndDuplicateLogs(t *testing.T) {
	chain := newFakeChain(100)
	malformed := ports.RawLog{Topics: []string{"0xsig"}, BlockNumber: 10, TxHash: "0xbad"}
	chain.addLogs(0, 100, proofLog(10, "0x01"), malformed, proofLog(11, "0x01"))
	runner, events, notifier := setupRunner(t, chain, Config{ChunkSize: 10000})
	ctx := context.Background()

	if err := runner.Backfill(ctx); err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}

	stored, err := events.List(ctx, ports.EventFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored events = %d, want the single valid unique log", len(stored))
	}
	if len(notifier.seen) != 1 {
		t.Fatalf("notified events = %d, duplicates must not be pushed", len(notifier.seen))
	}
}

func TestBackfillTimestampFailureLeavesChunkUnconsumed(t *testing.T) {
	chain := newFakeChain(100)
	chain.addLogs(0, 100, proofLog(10, "0x01"))
	chain.failTimestamp(10, true)
	runner, events, notifier := setupRunner(t, chain, Config{ChunkSize: 10000})
	ctx := context.Background()

	if err := runner.Backfill(ctx); err == nil {
		t.Fatal("Backfill() should fail when the chain timestamp is unavailable")
	}
	stored, err := events.List(ctx, ports.EventFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("stored events = %d, the row must not carry a fabricated timestamp", len(stored))
	}
	if len(notifier.seen) != 0 {
		t.Fatalf("notified events = %d", len(notifier.seen))
	}

	// The cursor stayed behind the chunk, so a retry re-reads it and
	// completes once the lookup works again.
	chain.failTimestamp(10, false)
	chain.requests = nil
	if err := runner.Backfill(ctx); err != nil {
		t.Fatalf("Backfill(retry) error = %v", err)
	}
	if strings.Join(chain.requests, ",") != "0-100" {
		t.Fatalf("retry requested %v, want the same chunk", chain.requests)
	}
	stored, err = events.List(ctx, ports.EventFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 1 || stored[0].Timestamp != 1700000010 {
		t.Fatalf("retry stored %v", stored)
	}
}

func TestBackfillStartsFromConfiguredBlock(t *testing.T) {
	chain := newFakeChain(500)
	runner, _, _ := setupRunner(t, chain, Config{FromBlock: 300, ChunkSize: 10000})

	if err := runner.Backfill(context.Background()); err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if len(chain.requests) != 1 || chain.requests[0] != "300-500" {
		t.Fatalf("requested ranges = %v", chain.requests)
	}
}
