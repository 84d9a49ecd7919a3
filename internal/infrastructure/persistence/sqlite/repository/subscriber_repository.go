package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"proofwatch/internal/errs"
	"proofwatch/internal/infrastructure/persistence/sqlite/model"
	"proofwatch/internal/ports"
)

type SubscriberRepository struct {
	db *gorm.DB
}

var _ ports.SubscriberRepository = (*SubscriberRepository)(nil)

func NewSubscriberRepository(db *gorm.DB) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

func (r *SubscriberRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

// Upsert keys on chat_id: a re-subscribe updates preferences in place and
// reactivates the row instead of inserting a duplicate. subscribed_at is
// only set on first insert.
func (r *SubscriberRepository) Upsert(ctx context.Context, input ports.SubscriberUpsert) (ports.Subscriber, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Subscriber{}, err
	}

	row := model.Subscriber{
		ChatID:        input.ChatID,
		UserID:        input.UserID,
		Username:      input.Username,
		NotifySuccess: input.NotifySuccess,
		NotifyFailure: input.NotifyFailure,
		ProverFilter:  input.ProverFilter,
		IsActive:      true,
		SubscribedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"user_id":        row.UserID,
			"username":       row.Username,
			"notify_success": row.NotifySuccess,
			"notify_failure": row.NotifyFailure,
			"prover_filter":  row.ProverFilter,
			"is_active":      true,
		}),
	}).Create(&row).Error; err != nil {
		return ports.Subscriber{}, errs.Wrap(err, "upsert subscriber")
	}

	return r.GetByChatID(ctx, input.ChatID)
}

func (r *SubscriberRepository) GetByChatID(ctx context.Context, chatID int64) (ports.Subscriber, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Subscriber{}, err
	}

	var row model.Subscriber
	if err := db.Where("chat_id = ?", chatID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Subscriber{}, ports.ErrSubscriberNotFound
		}
		return ports.Subscriber{}, errs.Wrap(err, "query subscriber")
	}
	return mapSubscriber(row), nil
}

func (r *SubscriberRepository) ListActive(ctx context.Context) ([]ports.Subscriber, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Subscriber
	if err := db.Where("is_active = ?", true).Order("subscriber_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query active subscribers")
	}

	items := make([]ports.Subscriber, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapSubscriber(row))
	}
	return items, nil
}

func (r *SubscriberRepository) SetActive(ctx context.Context, chatID int64, active bool) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.Subscriber{}).
		Where("chat_id = ?", chatID).
		Update("is_active", active)
	if result.Error != nil {
		return errs.Wrap(result.Error, "update subscriber active flag")
	}
	if result.RowsAffected == 0 {
		return ports.ErrSubscriberNotFound
	}
	return nil
}

func mapSubscriber(row model.Subscriber) ports.Subscriber {
	return ports.Subscriber{
		SubscriberID:  row.SubscriberID,
		ChatID:        row.ChatID,
		UserID:        row.UserID,
		Username:      row.Username,
		NotifySuccess: row.NotifySuccess,
		NotifyFailure: row.NotifyFailure,
		ProverFilter:  row.ProverFilter,
		IsActive:      row.IsActive,
		SubscribedAt:  row.SubscribedAt,
	}
}
