package uow

import (
	"context"

	"gorm.io/gorm"

	"proofwatch/internal/ports"
)

// UnitOfWork groups repository calls into one sqlite transaction. The
// transaction travels in the context, so any repository invoked from fn
// joins it automatically.
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error. A call that is already inside a transaction joins the ambient
// one instead of nesting.
func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ports.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
}
