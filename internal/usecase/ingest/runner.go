package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
)

const cursorKey = "indexer:last_block"

// EventNotifier is the best-effort forward path to the engine. A nil
// notifier or a notify failure never blocks durable storage; the engine's
// reconciler covers whatever the push misses.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev ports.EventCreate) error
}

type Config struct {
	FromBlock  uint64
	ChunkSize  uint64
	RetryDelay time.Duration
}

// Runner drives ingestion: chunked historical backfill, then the live log
// subscription. Every stored event is durable before it is pushed.
type Runner struct {
	events   ports.EventRepository
	chain    ports.ChainSource
	notifier EventNotifier
	cache    ports.Cache
	metrics  *metric.Metrics
	cfg      Config
}

func NewRunner(
	events ports.EventRepository,
	chain ports.ChainSource,
	notifier EventNotifier,
	cache ports.Cache,
	metrics *metric.Metrics,
	cfg Config,
) *Runner {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 10000
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Runner{
		events:   events,
		chain:    chain,
		notifier: notifier,
		cache:    cache,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run backfills to the chain head and then follows the live stream until
// ctx is done. A dropped subscription restarts with a fresh backfill so
// the gap between drop and reconnect is not lost.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := r.Backfill(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error(ctx, "backfill failed", slog.Any("error", errs.Loggable(err)))
		} else {
			err := r.chain.SubscribeLogs(ctx, func(ctx context.Context, raw ports.RawLog) {
				if err := r.ingestLog(ctx, raw, "live"); err != nil {
					// The cursor has not passed this block, so the next
					// backfill after a reconnect re-reads it.
					logging.Warn(ctx, "live log not ingested",
						slog.String("tx_hash", raw.TxHash),
						slog.Any("error", errs.Loggable(err)),
					)
				}
			})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn(ctx, "live subscription ended", slog.Any("error", errs.Loggable(err)))
		}

		timer := time.NewTimer(r.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Backfill walks from the stored cursor (or the configured start block) to
// the current head in fixed-size chunks. The cursor only advances after a
// chunk is fully stored, so a crash re-reads at most one chunk.
func (r *Runner) Backfill(ctx context.Context) error {
	latest, err := r.chain.LatestBlock(ctx)
	if err != nil {
		return errs.Wrap(err, "query latest block")
	}

	from := r.cfg.FromBlock
	if cursor, ok := r.loadCursor(ctx); ok && cursor >= from {
		from = cursor + 1
	}
	if from > latest {
		return nil
	}

	logging.Info(ctx, "backfill started",
		slog.Uint64("from_block", from),
		slog.Uint64("to_block", latest),
	)

	for chunkStart := from; chunkStart <= latest; chunkStart += r.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunkEnd := chunkStart + r.cfg.ChunkSize - 1
		if chunkEnd > latest {
			chunkEnd = latest
		}

		logs, err := r.chain.Logs(ctx, chunkStart, chunkEnd)
		if err != nil {
			return errs.Wrapf(err, "fetch logs %d..%d", chunkStart, chunkEnd)
		}
		for _, raw := range logs {
			if err := r.ingestLog(ctx, raw, "backfill"); err != nil {
				// Leave the cursor behind this chunk; the retry re-reads
				// it and the idempotent insert absorbs the overlap.
				return errs.Wrapf(err, "ingest chunk %d..%d", chunkStart, chunkEnd)
			}
		}

		r.saveCursor(ctx, chunkEnd)
	}
	return nil
}

// ingestLog decodes, stores, and forwards one log. Malformed logs are
// dropped with a logged reason. A timestamp lookup or store failure is
// returned so the caller can retry later: events are immutable once
// stored, so writing a made-up timestamp could never be corrected.
func (r *Runner) ingestLog(ctx context.Context, raw ports.RawLog, mode string) error {
	input, err := DecodeRawLog(raw)
	if err != nil {
		logging.Warn(ctx, "dropping malformed log",
			slog.String("tx_hash", raw.TxHash),
			slog.Any("error", errs.Loggable(err)),
		)
		return nil
	}

	ts, err := r.chain.BlockTimestamp(ctx, raw.BlockNumber)
	if err != nil {
		return errs.Wrapf(err, "block timestamp for %d", raw.BlockNumber)
	}
	input.Timestamp = ts

	_, created, err := r.events.Create(ctx, input)
	if err != nil {
		return errs.Wrapf(err, "store event %s", input.TxHash)
	}
	if !created {
		return nil
	}

	if r.metrics != nil {
		r.metrics.EventsIngested.WithLabelValues(mode).Inc()
	}
	logging.Info(ctx, "event stored",
		slog.String("tx_hash", input.TxHash),
		slog.Uint64("block_number", input.BlockNumber),
		slog.String("mode", mode),
	)

	if r.notifier != nil {
		if err := r.notifier.NotifyEvent(ctx, input); err != nil {
			logging.Warn(ctx, "push notify failed",
				slog.String("tx_hash", input.TxHash),
				slog.Any("error", errs.Loggable(err)),
			)
		}
	}
	return nil
}

func (r *Runner) loadCursor(ctx context.Context) (uint64, bool) {
	if r.cache == nil {
		return 0, false
	}
	raw, found, err := r.cache.Get(ctx, cursorKey)
	if err != nil || !found {
		return 0, false
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return cursor, true
}

func (r *Runner) saveCursor(ctx context.Context, block uint64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, cursorKey, strconv.FormatUint(block, 10), 0); err != nil {
		logging.Warn(ctx, "cursor save failed",
			slog.Uint64("block", block),
			slog.Any("error", errs.Loggable(err)),
		)
	}
}
