package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/metric"
	"proofwatch/internal/ports"
	"proofwatch/internal/usecase/subscription"
)

// Server exposes the subscriber and event resources plus the operational
// endpoints. Delivery itself never goes through here.
type Server struct {
	subscriptions *subscription.Service
	events        ports.EventRepository
	metrics       *metric.Metrics
}

func NewServer(subscriptions *subscription.Service, events ports.EventRepository, metrics *metric.Metrics) *Server {
	return &Server{subscriptions: subscriptions, events: events, metrics: metrics}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/subscribers", func(r chi.Router) {
		r.Post("/", s.handleSubscribe)
		r.Get("/", s.handleListSubscribers)
		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/", s.handleGetSubscriber)
			r.Delete("/", s.handleUnsubscribe)
			r.Get("/status", s.handleSubscriberStatus)
			r.Put("/filter", s.handleSetFilter)
			r.Delete("/filter", s.handleClearFilter)
			r.Get("/pending-events", s.handlePendingEvents)
		})
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/", s.handleCreateEvent)
		r.Get("/", s.handleListEvents)
		r.Get("/{eventID}", s.handleGetEvent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

type subscriberResponse struct {
	SubscriberID  uint64  `json:"subscriber_id"`
	ChatID        int64   `json:"chat_id"`
	UserID        int64   `json:"user_id"`
	Username      *string `json:"username,omitempty"`
	NotifySuccess bool    `json:"notify_success"`
	NotifyFailure bool    `json:"notify_failure"`
	ProverFilter  *string `json:"prover_filter,omitempty"`
	IsActive      bool    `json:"is_active"`
	SubscribedAt  string  `json:"subscribed_at"`
}

func subscriberJSON(sub ports.Subscriber) subscriberResponse {
	return subscriberResponse{
		SubscriberID:  sub.SubscriberID,
		ChatID:        sub.ChatID,
		UserID:        sub.UserID,
		Username:      sub.Username,
		NotifySuccess: sub.NotifySuccess,
		NotifyFailure: sub.NotifyFailure,
		ProverFilter:  sub.ProverFilter,
		IsActive:      sub.IsActive,
		SubscribedAt:  sub.SubscribedAt,
	}
}

type eventResponse struct {
	EventID     uint64 `json:"event_id"`
	Prover      string `json:"prover"`
	Result      bool   `json:"result"`
	Timestamp   int64  `json:"timestamp"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"transaction_hash"`
	CreatedAt   string `json:"created_at"`
}

func eventJSON(ev ports.Event) eventResponse {
	return eventResponse{
		EventID:     ev.EventID,
		Prover:      ev.Prover,
		Result:      ev.Result,
		Timestamp:   ev.Timestamp,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash,
		CreatedAt:   ev.CreatedAt,
	}
}

type subscribeRequest struct {
	ChatID        int64   `json:"chat_id"`
	UserID        int64   `json:"user_id"`
	Username      *string `json:"username"`
	NotifySuccess *bool   `json:"notify_success"`
	NotifyFailure *bool   `json:"notify_failure"`
	ProverFilter  *string `json:"prover_filter"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}

	input := subscription.SubscribeInput{
		ChatID:        req.ChatID,
		UserID:        req.UserID,
		Username:      req.Username,
		NotifySuccess: true,
		ProverFilter:  req.ProverFilter,
	}
	if req.NotifySuccess != nil {
		input.NotifySuccess = *req.NotifySuccess
	}
	if req.NotifyFailure != nil {
		input.NotifyFailure = *req.NotifyFailure
	}

	sub, err := s.subscriptions.Subscribe(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, subscriberJSON(sub))
}

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subscriptions.ListActive(r.Context())
	if err != nil {
		s.internalError(w, r, "list subscribers", err)
		return
	}

	items := make([]subscriberResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, subscriberJSON(sub))
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	sub, err := s.subscriptions.Get(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, ports.ErrSubscriberNotFound) {
			writeError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		s.internalError(w, r, "get subscriber", err)
		return
	}
	writeJSON(w, http.StatusOK, subscriberJSON(sub))
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	if err := s.subscriptions.Unsubscribe(r.Context(), chatID); err != nil {
		if errors.Is(err, ports.ErrSubscriberNotFound) {
			writeError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		s.internalError(w, r, "unsubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type filterRequest struct {
	ProverFilter string `json:"prover_filter"`
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProverFilter == "" {
		writeError(w, http.StatusBadRequest, "prover_filter is required")
		return
	}

	sub, err := s.subscriptions.SetProverFilter(r.Context(), chatID, req.ProverFilter)
	if err != nil {
		if errors.Is(err, ports.ErrSubscriberNotFound) {
			writeError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, subscriberJSON(sub))
}

// Clearing takes the filter in a query parameter; the stored filter must
// match it or nothing changes.
func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	filter := r.URL.Query().Get("filter")
	if filter == "" {
		writeError(w, http.StatusBadRequest, "filter query parameter is required")
		return
	}

	sub, err := s.subscriptions.ClearProverFilter(r.Context(), chatID, filter)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrSubscriberNotFound):
			writeError(w, http.StatusNotFound, "subscriber not found")
		case errors.Is(err, subscription.ErrFilterMismatch):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, subscriberJSON(sub))
}

func (s *Server) handleSubscriberStatus(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	status, err := s.subscriptions.Status(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, ports.ErrSubscriberNotFound) {
			writeError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		s.internalError(w, r, "subscriber status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePendingEvents(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	pending, err := s.subscriptions.PendingEvents(r.Context(), chatID, limit)
	if err != nil {
		if errors.Is(err, ports.ErrSubscriberNotFound) {
			writeError(w, http.StatusNotFound, "subscriber not found")
			return
		}
		s.internalError(w, r, "pending events", err)
		return
	}

	items := make([]eventResponse, 0, len(pending))
	for _, ev := range pending {
		items = append(items, eventJSON(ev))
	}
	writeJSON(w, http.StatusOK, items)
}

type createEventRequest struct {
	Prover      string `json:"prover"`
	Result      bool   `json:"result"`
	Timestamp   int64  `json:"timestamp"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"transaction_hash"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TxHash == "" {
		writeError(w, http.StatusBadRequest, "transaction_hash is required")
		return
	}

	ev, created, err := s.events.Create(r.Context(), ports.EventCreate{
		Prover:      req.Prover,
		Result:      req.Result,
		Timestamp:   req.Timestamp,
		BlockNumber: req.BlockNumber,
		TxHash:      req.TxHash,
	})
	if err != nil {
		s.internalError(w, r, "create event", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, eventJSON(ev))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter := ports.EventFilter{Prover: r.URL.Query().Get("prover")}

	if raw := r.URL.Query().Get("result"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "result must be a boolean")
			return
		}
		filter.Result = &parsed
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = parsed
	}

	events, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, "list events", err)
		return
	}

	items := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, eventJSON(ev))
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseUint(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "event id must be an integer")
		return
	}

	ev, err := s.events.GetByID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, ports.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.internalError(w, r, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, eventJSON(ev))
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "chat id must be an integer")
		return 0, false
	}
	return chatID, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.Error(r.Context(), op+" failed", slog.Any("error", errs.Loggable(err)))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
