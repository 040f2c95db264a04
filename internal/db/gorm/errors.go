package gorm

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/thebtf/venuescout/pkg/models"
)

// PostgreSQL error codes that mean a concurrent writer won.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classifyError maps driver errors onto the models sentinels and adds context.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", op, models.ErrLostUpdate, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
