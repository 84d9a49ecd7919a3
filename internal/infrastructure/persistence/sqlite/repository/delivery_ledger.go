package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"proofwatch/internal/errs"
	"proofwatch/internal/infrastructure/persistence/sqlite/model"
	"proofwatch/internal/ports"
)

type DeliveryLedger struct {
	db *gorm.DB
}

var _ ports.DeliveryLedger = (*DeliveryLedger)(nil)

func NewDeliveryLedger(db *gorm.DB) *DeliveryLedger {
	return &DeliveryLedger{db: db}
}

func (l *DeliveryLedger) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return l.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

// Pending evaluates the matching predicate in SQL against the subscriber's
// current preferences: result-interest gate, optional case-insensitive
// prover substring, and exclusion of already-recorded pairs. Most recent
// block first, capped at limit to bound one reconciliation pass.
func (l *DeliveryLedger) Pending(ctx context.Context, chatID int64, limit int) ([]ports.Event, error) {
	db, err := l.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var sub model.Subscriber
	if err := db.Where("chat_id = ?", chatID).Take(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrSubscriberNotFound
		}
		return nil, errs.Wrap(err, "query subscriber")
	}

	if !sub.IsActive || (!sub.NotifySuccess && !sub.NotifyFailure) {
		return nil, nil
	}

	delivered := db.Model(&model.Delivery{}).
		Select("event_id").
		Where("subscriber_id = ?", sub.SubscriberID)

	query := db.Model(&model.Event{}).Where("event_id NOT IN (?)", delivered)

	switch {
	case sub.NotifySuccess && sub.NotifyFailure:
		// Both outcome types wanted.
	case sub.NotifySuccess:
		query = query.Where("result = ?", true)
	default:
		query = query.Where("result = ?", false)
	}

	if sub.ProverFilter != nil {
		if filter := strings.TrimSpace(*sub.ProverFilter); filter != "" {
			query = query.Where("lower(prover) LIKE ?", "%"+strings.ToLower(filter)+"%")
		}
	}

	if limit <= 0 {
		limit = 50
	}

	var rows []model.Event
	if err := query.Order("block_number desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query pending events")
	}

	items := make([]ports.Event, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapEvent(row))
	}
	return items, nil
}

// Record is the single point where duplicate deliveries are prevented. The
// insert-if-absent runs as one statement against the composite primary key,
// so concurrent attempts for the same pair leave exactly one row regardless
// of which path (push or reconciler) got there first.
func (l *DeliveryLedger) Record(ctx context.Context, subscriberID uint64, eventID uint64) (bool, error) {
	db, err := l.dbFromContext(ctx)
	if err != nil {
		return false, err
	}

	row := model.Delivery{
		SubscriberID: subscriberID,
		EventID:      eventID,
		NotifiedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "insert delivery record")
	}
	return result.RowsAffected > 0, nil
}

func (l *DeliveryLedger) DeliveryCount(ctx context.Context, subscriberID uint64) (int64, error) {
	db, err := l.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.Delivery{}).
		Where("subscriber_id = ?", subscriberID).
		Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count deliveries")
	}
	return count, nil
}
