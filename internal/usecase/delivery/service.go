package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/domain/notify"
	"proofwatch/internal/errs"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
)

// Outcome classifies one dispatch attempt.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeDelivered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

type Config struct {
	ReconcileInterval time.Duration
	ErrorBackoff      time.Duration
	PageSize          int
	Workers           int
}

// Service routes stored events to matching subscribers and records every
// successful send in the delivery ledger.
type Service struct {
	subs     ports.SubscriberRepository
	ledger   ports.DeliveryLedger
	sender   ports.MessageSender
	renderer *notify.Renderer
	metrics  *metric.Metrics
	cfg      Config
}

func NewService(
	subs ports.SubscriberRepository,
	ledger ports.DeliveryLedger,
	sender ports.MessageSender,
	renderer *notify.Renderer,
	metrics *metric.Metrics,
	cfg Config,
) *Service {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 10 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Service{
		subs:     subs,
		ledger:   ledger,
		sender:   sender,
		renderer: renderer,
		metrics:  metrics,
		cfg:      cfg,
	}
}

func subscriptionView(sub ports.Subscriber) notify.Subscription {
	view := notify.Subscription{
		Active:       sub.IsActive,
		WantsSuccess: sub.NotifySuccess,
		WantsFailure: sub.NotifyFailure,
	}
	if sub.ProverFilter != nil {
		view.ProverFilter = *sub.ProverFilter
	}
	return view
}

func eventView(ev ports.Event) notify.Event {
	return notify.Event{
		Prover:      ev.Prover,
		Result:      ev.Result,
		Timestamp:   ev.Timestamp,
		BlockNumber: ev.BlockNumber,
	}
}

// Dispatch attempts delivery of one event to one subscriber. The
// subscriber row is re-read so preference changes made after the event was
// matched still apply. The send happens before the ledger write; a crash
// between the two is repaired as a duplicate-tolerant resend, never a
// silent drop. A pair already present in the ledger counts as delivered.
//
// A refused send comes back as Failed with a nil error: the ledger stays
// untouched and the next reconciliation pass retries at its normal
// cadence. The error return is reserved for store failures.
func (s *Service) Dispatch(ctx context.Context, chatID int64, ev ports.Event) (Outcome, error) {
	sub, err := s.subs.GetByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, ports.ErrSubscriberNotFound) {
			s.count(OutcomeSkipped)
			return OutcomeSkipped, nil
		}
		s.count(OutcomeFailed)
		return OutcomeFailed, errs.Wrap(err, "load subscriber")
	}

	if !notify.Matches(subscriptionView(sub), eventView(ev)) {
		s.count(OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	if err := s.sender.Send(ctx, sub.ChatID, s.renderer.Render(eventView(ev))); err != nil {
		s.count(OutcomeFailed)
		logging.Warn(ctx, "send failed",
			slog.Int64("chat_id", sub.ChatID),
			slog.Uint64("event_id", ev.EventID),
			slog.Any("error", errs.Loggable(err)),
		)
		return OutcomeFailed, nil
	}

	newlyRecorded, err := s.ledger.Record(ctx, sub.SubscriberID, ev.EventID)
	if err != nil {
		s.count(OutcomeFailed)
		return OutcomeFailed, errs.Wrap(err, "record delivery")
	}
	if !newlyRecorded {
		logging.Info(ctx, "delivery already recorded",
			slog.Int64("chat_id", sub.ChatID),
			slog.Uint64("event_id", ev.EventID),
		)
	}

	s.count(OutcomeDelivered)
	return OutcomeDelivered, nil
}

func (s *Service) count(outcome Outcome) {
	if s.metrics != nil {
		s.metrics.Deliveries.WithLabelValues(outcome.String()).Inc()
	}
}
