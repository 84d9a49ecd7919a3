package ports

import (
	"context"
	"errors"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrEventNotFound      = errors.New("event not found")
)

// Subscriber is a notification recipient keyed by its chat id. Preferences
// and the active flag are mutable through Upsert/SetActive; historical
// delivery records stay valid because deactivation is a soft delete.
type Subscriber struct {
	SubscriberID  uint64
	ChatID        int64
	UserID        int64
	Username      *string
	NotifySuccess bool
	NotifyFailure bool
	ProverFilter  *string
	IsActive      bool
	SubscribedAt  string
}

type SubscriberUpsert struct {
	ChatID        int64
	UserID        int64
	Username      *string
	NotifySuccess bool
	NotifyFailure bool
	ProverFilter  *string
}

type SubscriberRepository interface {
	// Upsert creates the subscriber or updates preferences in place,
	// keyed on chat id. The row is (re)activated either way.
	Upsert(ctx context.Context, input SubscriberUpsert) (Subscriber, error)
	GetByChatID(ctx context.Context, chatID int64) (Subscriber, error)
	ListActive(ctx context.Context) ([]Subscriber, error)
	// SetActive flips the soft-delete flag. ErrSubscriberNotFound when
	// no row exists for the chat id.
	SetActive(ctx context.Context, chatID int64, active bool) error
}

// Event is one observed proof submission, immutable once stored and
// deduplicated by transaction hash.
type Event struct {
	EventID     uint64
	Prover      string
	Result      bool
	Timestamp   int64
	BlockNumber uint64
	TxHash      string
	CreatedAt   string
}

type EventCreate struct {
	Prover      string
	Result      bool
	Timestamp   int64
	BlockNumber uint64
	TxHash      string
}

type EventFilter struct {
	Result *bool
	Prover string
	Limit  int
}

type EventRepository interface {
	// Create is idempotent on transaction hash: a duplicate returns the
	// existing row with created=false and never inserts a second one.
	Create(ctx context.Context, input EventCreate) (event Event, created bool, err error)
	GetByID(ctx context.Context, eventID uint64) (Event, error)
	List(ctx context.Context, filter EventFilter) ([]Event, error)
}

// DeliveryLedger is the single source of truth for "already delivered".
// Record must be one atomic insert-if-absent in the store so concurrent
// dispatch attempts from the push path and the reconciler never produce
// two rows for the same (subscriber, event) pair.
type DeliveryLedger interface {
	// Pending returns events matching the subscriber's current
	// preferences that have no delivery record yet, most recent block
	// first, capped at limit.
	Pending(ctx context.Context, chatID int64, limit int) ([]Event, error)
	// Record inserts the delivery row if absent. newlyRecorded=false
	// means the pair was already recorded; callers treat that as
	// terminal success.
	Record(ctx context.Context, subscriberID uint64, eventID uint64) (newlyRecorded bool, err error)
	DeliveryCount(ctx context.Context, subscriberID uint64) (int64, error)
}
