package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/ports"
)

// FanOut pushes one freshly stored event to every active subscriber using
// a bounded worker pool. Failures for individual subscribers do not stop
// the rest; the reconciler retries them on its next pass.
func (s *Service) FanOut(ctx context.Context, ev ports.Event) error {
	subscribers, err := s.subs.ListActive(ctx)
	if err != nil {
		return errs.Wrap(err, "list active subscribers")
	}
	if len(subscribers) == 0 {
		return nil
	}

	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	failures := make([]error, len(subscribers))

	for i, sub := range subscribers {
		if err := ctx.Err(); err != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, chatID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := s.Dispatch(ctx, chatID, ev); err != nil {
				failures[i] = errs.Wrapf(err, "dispatch to chat %d", chatID)
			}
		}(i, sub.ChatID)
	}
	wg.Wait()

	if err := errors.Join(failures...); err != nil {
		logging.Warn(ctx, "fan-out finished with failures",
			slog.Uint64("event_id", ev.EventID),
			slog.Any("error", errs.Loggable(err)),
		)
		return err
	}
	return nil
}
