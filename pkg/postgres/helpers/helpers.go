package helpers

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// WrapTxAndCommit runs fn inside a transaction. When tx is non-nil fn joins
// it and the caller owns commit; otherwise a new transaction bound to ctx is
// opened, committed on success, and rolled back on error or panic.
func WrapTxAndCommit[T any](ctx context.Context, fn func(*gorm.DB) (T, error), db *gorm.DB, tx *gorm.DB) (res T, err error) {
	if tx != nil {
		return fn(tx)
	}

	tx = db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	res, err = fn(tx)
	if err != nil {
		tx.Rollback()
		return res, err
	}
	if cerr := tx.Commit().Error; cerr != nil {
		return res, fmt.Errorf("failed to commit transaction: %w", cerr)
	}
	return res, nil
}
