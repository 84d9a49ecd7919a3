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

type EventRepository struct {
	db *gorm.DB
}

var _ ports.EventRepository = (*EventRepository)(nil)

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

// Create inserts the event unless its tx hash is already present; the
// conflict path returns the stored row untouched so replayed ingestion
// attempts are no-ops.
func (r *EventRepository) Create(ctx context.Context, input ports.EventCreate) (ports.Event, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Event{}, false, err
	}

	txHash := strings.TrimSpace(input.TxHash)
	if txHash == "" {
		return ports.Event{}, false, errors.New("tx hash is required")
	}

	row := model.Event{
		Prover:      strings.TrimSpace(input.Prover),
		Result:      input.Result,
		Timestamp:   input.Timestamp,
		BlockNumber: input.BlockNumber,
		TxHash:      txHash,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return ports.Event{}, false, errs.Wrap(result.Error, "insert event")
	}

	if result.RowsAffected > 0 {
		return mapEvent(row), true, nil
	}

	var existing model.Event
	if err := db.Where("tx_hash = ?", txHash).Take(&existing).Error; err != nil {
		return ports.Event{}, false, errs.Wrap(err, "query existing event")
	}
	return mapEvent(existing), false, nil
}

func (r *EventRepository) GetByID(ctx context.Context, eventID uint64) (ports.Event, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Event{}, err
	}

	var row model.Event
	if err := db.Where("event_id = ?", eventID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Event{}, ports.ErrEventNotFound
		}
		return ports.Event{}, errs.Wrap(err, "query event")
	}
	return mapEvent(row), nil
}

func (r *EventRepository) List(ctx context.Context, filter ports.EventFilter) ([]ports.Event, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Event{}).Order("block_number desc")
	if filter.Result != nil {
		query = query.Where("result = ?", *filter.Result)
	}
	if prover := strings.TrimSpace(filter.Prover); prover != "" {
		query = query.Where("lower(prover) LIKE ?", "%"+strings.ToLower(prover)+"%")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []model.Event
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query events")
	}

	items := make([]ports.Event, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapEvent(row))
	}
	return items, nil
}

func mapEvent(row model.Event) ports.Event {
	return ports.Event{
		EventID:     row.EventID,
		Prover:      row.Prover,
		Result:      row.Result,
		Timestamp:   row.Timestamp,
		BlockNumber: row.BlockNumber,
		TxHash:      row.TxHash,
		CreatedAt:   row.CreatedAt,
	}
}
