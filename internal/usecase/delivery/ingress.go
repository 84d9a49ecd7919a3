package delivery

import (
	"context"
	"log/slog"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
)

// EventIngress accepts events arriving over the push channel: store first,
// then fan out. A replayed event is stored idempotently and not fanned out
// again, because dispatch sends before it records and a second fan-out
// would resend to everyone already served.
type EventIngress struct {
	events  ports.EventRepository
	svc     *Service
	metrics *metric.Metrics
}

func NewEventIngress(events ports.EventRepository, svc *Service, metrics *metric.Metrics) *EventIngress {
	return &EventIngress{events: events, svc: svc, metrics: metrics}
}

func (i *EventIngress) HandleEvent(ctx context.Context, input ports.EventCreate) error {
	ev, created, err := i.events.Create(ctx, input)
	if err != nil {
		return errs.Wrap(err, "store pushed event")
	}
	if !created {
		logging.Info(ctx, "pushed event already stored", slog.String("tx_hash", input.TxHash))
		return nil
	}

	if i.metrics != nil {
		i.metrics.EventsIngested.WithLabelValues("push").Inc()
	}
	logging.Info(ctx, "pushed event stored",
		slog.String("tx_hash", ev.TxHash),
		slog.Uint64("block_number", ev.BlockNumber),
	)
	return i.svc.FanOut(ctx, ev)
}
