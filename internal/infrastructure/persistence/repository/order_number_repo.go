package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
)

// OrderNumberSequence issues PO-<year>-<NNNNN> numbers from a per-year counter
type OrderNumberSequence struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderNumberSequence creates a new sqlite-backed order number generator
func NewOrderNumberSequence(db *sql.DB, logger *zap.Logger) *OrderNumberSequence {
	return &OrderNumberSequence{db: db, logger: logger}
}

// Next atomically increments the counter for at's year
func (s *OrderNumberSequence) Next(ctx context.Context, at time.Time) (string, error) {
	year := at.UTC().Year()

	var n int64
	err := sqlite.ExecutorFor(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO order_number_sequences (year, last_value) VALUES (?, 1)
		ON CONFLICT(year) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value`, year,
	).Scan(&n)
	if err != nil {
		s.logger.Error("Failed to allocate order number", zap.Int("year", year), zap.Error(err))
		return "", fmt.Errorf("failed to allocate order number: %w", err)
	}
	return fmt.Sprintf("PO-%d-%05d", year, n), nil
}

var _ port.OrderNumberGenerator = (*OrderNumberSequence)(nil)
