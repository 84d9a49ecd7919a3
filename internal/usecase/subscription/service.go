package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/ports"
)

const statusCacheTTL = 5 * time.Minute

// ErrFilterMismatch is returned when a clear names a filter other than the
// one currently stored.
var ErrFilterMismatch = errors.New("stored prover filter does not match")

// Service owns the subscriber lifecycle: registration, preference changes,
// soft unsubscribe, and status snapshots. The cache only backs Status
// reads; delivery decisions always go to the repository.
type Service struct {
	subs   ports.SubscriberRepository
	ledger ports.DeliveryLedger
	cache  ports.Cache
	uow    ports.UnitOfWork
}

func NewService(subs ports.SubscriberRepository, ledger ports.DeliveryLedger, cache ports.Cache, uow ports.UnitOfWork) *Service {
	return &Service{subs: subs, ledger: ledger, cache: cache, uow: uow}
}

type SubscribeInput struct {
	ChatID        int64
	UserID        int64
	Username      *string
	NotifySuccess bool
	NotifyFailure bool
	ProverFilter  *string
}

// NormalizeProverAddress accepts an address with or without the 0x prefix
// and returns the canonical lowercase 0x-prefixed form. Anything that is
// not 40 hex digits is rejected.
func NormalizeProverAddress(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return "", fmt.Errorf("address is empty")
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	if len(trimmed) != 42 {
		return "", fmt.Errorf("address %q must be 42 characters including the 0x prefix", trimmed)
	}
	for _, r := range trimmed[2:] {
		isDigit := r >= '0' && r <= '9'
		isHexLetter := (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !isDigit && !isHexLetter {
			return "", fmt.Errorf("address %q contains a non-hex character", trimmed)
		}
	}
	return strings.ToLower(trimmed), nil
}

// Subscribe registers or re-registers a chat. A provided prover filter is
// validated and normalized before it is stored.
func (s *Service) Subscribe(ctx context.Context, input SubscribeInput) (ports.Subscriber, error) {
	if input.ProverFilter != nil {
		normalized, err := NormalizeProverAddress(*input.ProverFilter)
		if err != nil {
			return ports.Subscriber{}, errs.Wrap(err, "validate prover filter")
		}
		input.ProverFilter = &normalized
	}

	sub, err := s.subs.Upsert(ctx, ports.SubscriberUpsert{
		ChatID:        input.ChatID,
		UserID:        input.UserID,
		Username:      input.Username,
		NotifySuccess: input.NotifySuccess,
		NotifyFailure: input.NotifyFailure,
		ProverFilter:  input.ProverFilter,
	})
	if err != nil {
		return ports.Subscriber{}, err
	}

	s.invalidateStatus(ctx, input.ChatID)
	logging.Info(ctx, "subscriber registered",
		slog.Int64("chat_id", sub.ChatID),
		slog.Bool("notify_success", sub.NotifySuccess),
		slog.Bool("notify_failure", sub.NotifyFailure),
	)
	return sub, nil
}

// Unsubscribe is a soft delete: the row stays so delivery history keeps
// its subscriber and a later re-subscribe reuses the same identity.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) error {
	if err := s.subs.SetActive(ctx, chatID, false); err != nil {
		return err
	}
	s.invalidateStatus(ctx, chatID)
	logging.Info(ctx, "subscriber deactivated", slog.Int64("chat_id", chatID))
	return nil
}

// SetProverFilter replaces the stored filter with a validated address.
// Read and update share one transaction so a concurrent preference change
// is not silently overwritten with stale fields.
func (s *Service) SetProverFilter(ctx context.Context, chatID int64, addr string) (ports.Subscriber, error) {
	normalized, err := NormalizeProverAddress(addr)
	if err != nil {
		return ports.Subscriber{}, errs.Wrap(err, "validate prover filter")
	}

	updated, err := s.replaceFilter(ctx, chatID, &normalized, nil)
	if err != nil {
		return ports.Subscriber{}, err
	}
	s.invalidateStatus(ctx, chatID)
	return updated, nil
}

// ClearProverFilter removes the stored filter, but only when the caller
// names the filter currently in place. A mismatch leaves the row alone.
func (s *Service) ClearProverFilter(ctx context.Context, chatID int64, addr string) (ports.Subscriber, error) {
	normalized, err := NormalizeProverAddress(addr)
	if err != nil {
		return ports.Subscriber{}, errs.Wrap(err, "validate prover filter")
	}

	updated, err := s.replaceFilter(ctx, chatID, nil, &normalized)
	if err != nil {
		return ports.Subscriber{}, err
	}
	s.invalidateStatus(ctx, chatID)
	return updated, nil
}

// replaceFilter sets the filter to next inside a transaction. When expect
// is non-nil the stored filter must match it first.
func (s *Service) replaceFilter(ctx context.Context, chatID int64, next *string, expect *string) (ports.Subscriber, error) {
	var updated ports.Subscriber
	run := func(ctx context.Context) error {
		sub, err := s.subs.GetByChatID(ctx, chatID)
		if err != nil {
			return err
		}
		if expect != nil {
			if sub.ProverFilter == nil || !strings.EqualFold(*sub.ProverFilter, *expect) {
				return errs.Wrapf(ErrFilterMismatch, "no filter %s is set for chat %d", *expect, chatID)
			}
		}

		updated, err = s.subs.Upsert(ctx, ports.SubscriberUpsert{
			ChatID:        sub.ChatID,
			UserID:        sub.UserID,
			Username:      sub.Username,
			NotifySuccess: sub.NotifySuccess,
			NotifyFailure: sub.NotifyFailure,
			ProverFilter:  next,
		})
		return err
	}

	if s.uow == nil {
		return updated, run(ctx)
	}
	if err := s.uow.WithTx(ctx, run); err != nil {
		return ports.Subscriber{}, err
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, chatID int64) (ports.Subscriber, error) {
	return s.subs.GetByChatID(ctx, chatID)
}

func (s *Service) ListActive(ctx context.Context) ([]ports.Subscriber, error) {
	return s.subs.ListActive(ctx)
}

func (s *Service) PendingEvents(ctx context.Context, chatID int64, limit int) ([]ports.Event, error) {
	return s.ledger.Pending(ctx, chatID, limit)
}

// Status is a read-through cached snapshot for status displays. It is a
// convenience view only; the underlying rows stay authoritative.
type Status struct {
	ChatID        int64   `json:"chat_id"`
	IsActive      bool    `json:"is_active"`
	NotifySuccess bool    `json:"notify_success"`
	NotifyFailure bool    `json:"notify_failure"`
	ProverFilter  *string `json:"prover_filter,omitempty"`
	SubscribedAt  string  `json:"subscribed_at"`
	Deliveries    int64   `json:"deliveries"`
}

func statusCacheKey(chatID int64) string {
	return fmt.Sprintf("status:%d", chatID)
}

func (s *Service) Status(ctx context.Context, chatID int64) (Status, error) {
	if s.cache != nil {
		if raw, found, err := s.cache.Get(ctx, statusCacheKey(chatID)); err == nil && found {
			var cached Status
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}

	sub, err := s.subs.GetByChatID(ctx, chatID)
	if err != nil {
		return Status{}, err
	}
	deliveries, err := s.ledger.DeliveryCount(ctx, sub.SubscriberID)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		ChatID:        sub.ChatID,
		IsActive:      sub.IsActive,
		NotifySuccess: sub.NotifySuccess,
		NotifyFailure: sub.NotifyFailure,
		ProverFilter:  sub.ProverFilter,
		SubscribedAt:  sub.SubscribedAt,
		Deliveries:    deliveries,
	}

	if s.cache != nil {
		if raw, err := json.Marshal(status); err == nil {
			if err := s.cache.Set(ctx, statusCacheKey(chatID), string(raw), statusCacheTTL); err != nil {
				logging.Warn(ctx, "status cache write failed",
					slog.Int64("chat_id", chatID),
					slog.Any("error", errs.Loggable(err)),
				)
			}
		}
	}
	return status, nil
}

func (s *Service) invalidateStatus(ctx context.Context, chatID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statusCacheKey(chatID)); err != nil {
		logging.Warn(ctx, "status cache invalidation failed",
			slog.Int64("chat_id", chatID),
			slog.Any("error", errs.Loggable(err)),
		)
	}
}
