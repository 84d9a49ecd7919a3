package pushws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
)

// EventSink receives decoded push events on the engine side.
type EventSink interface {
	HandleEvent(ctx context.Context, input ports.EventCreate) error
}

// Server accepts push sessions from indexers. Each session is read until
// it sends a frame that does not parse; unknown-but-parseable types are
// ignored so the protocol can grow without breaking older peers.
type Server struct {
	upgrader websocket.Upgrader
	sink     EventSink
	metrics  *metric.Metrics
}

func NewServer(sink EventSink, metrics *metric.Metrics) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sink:    sink,
		metrics: metrics,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(r.Context(), "push upgrade failed", slog.Any("error", errs.Loggable(err)))
		return
	}

	sessionID := uuid.NewString()
	ctx := logging.WithAttrs(r.Context(), slog.String("push_session", sessionID))
	logging.Info(ctx, "push session opened")
	if s.metrics != nil {
		s.metrics.PushSessions.Inc()
	}
	defer func() {
		_ = conn.Close()
		if s.metrics != nil {
			s.metrics.PushSessions.Dec()
		}
		logging.Info(ctx, "push session closed")
	}()

	s.readLoop(ctx, conn)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			s.countMessage("malformed")
			logging.Warn(ctx, "malformed push frame, closing session",
				slog.Any("error", errs.Loggable(err)),
			)
			return
		}

		switch envelope.Type {
		case TypeBlockchainEvent:
			var payload EventPayload
			if err := json.Unmarshal(envelope.Data, &payload); err != nil {
				s.countMessage("malformed")
				logging.Warn(ctx, "malformed event payload, closing session",
					slog.Any("error", errs.Loggable(err)),
				)
				return
			}
			s.countMessage("event")
			if err := s.sink.HandleEvent(ctx, payload.toCreate()); err != nil {
				logging.Error(ctx, "push event handling failed",
					slog.String("tx_hash", payload.TxHash),
					slog.Any("error", errs.Loggable(err)),
				)
			}
		default:
			s.countMessage("unknown")
			logging.Warn(ctx, "ignoring unknown push frame type",
				slog.String("type", envelope.Type),
			)
		}
	}
}

func (s *Server) countMessage(kind string) {
	if s.metrics != nil {
		s.metrics.PushMessages.WithLabelValues(kind).Inc()
	}
}
