package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
)

// RunReconciler periodically sweeps the ledger for matched events that
// were never delivered (missed push, crash between send and record on the
// other side, subscriber offline). It runs until ctx is done. Only a pass
// that errored, which means the store misbehaved, switches to the longer
// backoff; refused sends keep the normal interval.
func (s *Service) RunReconciler(ctx context.Context) error {
	logging.Info(ctx, "reconciler started",
		slog.Duration("interval", s.cfg.ReconcileInterval),
		slog.Duration("error_backoff", s.cfg.ErrorBackoff),
	)

	for {
		delay := s.cfg.ReconcileInterval
		if err := s.ReconcileOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logging.Error(ctx, "reconcile pass failed", slog.Any("error", errs.Loggable(err)))
			delay = s.cfg.ErrorBackoff
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ReconcileOnce processes pending events for every active subscriber. Per
// subscriber the pending page is walked in order and the walk stops at the
// first failed dispatch so later events cannot overtake a stuck one.
func (s *Service) ReconcileOnce(ctx context.Context) error {
	subscribers, err := s.subs.ListActive(ctx)
	if err != nil {
		s.countPass("error")
		return errs.Wrap(err, "list active subscribers")
	}

	// Subscribers are independent units, so they share the worker pool;
	// within one subscriber the pending page stays strictly ordered.
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
			failures[i] = s.reconcileSubscriber(ctx, chatID)
		}(i, sub.ChatID)
	}
	wg.Wait()

	if err := errors.Join(failures...); err != nil {
		s.countPass("error")
		return err
	}
	s.countPass("ok")
	return nil
}

func (s *Service) reconcileSubscriber(ctx context.Context, chatID int64) error {
	pending, err := s.ledger.Pending(ctx, chatID, s.cfg.PageSize)
	if err != nil {
		return errs.Wrapf(err, "pending for chat %d", chatID)
	}

	var failures []error
	for _, ev := range pending {
		// Dispatch errors are store failures; a refused send is just an
		// OutcomeFailed and ends this subscriber's walk for the pass.
		outcome, err := s.Dispatch(ctx, chatID, ev)
		if err != nil {
			failures = append(failures, errs.Wrapf(err, "dispatch event %d to chat %d", ev.EventID, chatID))
		}
		if outcome == OutcomeFailed {
			break
		}
	}
	return errors.Join(failures...)
}

func (s *Service) countPass(result string) {
	if s.metrics != nil {
		s.metrics.ReconcilePasses.WithLabelValues(result).Inc()
	}
}
