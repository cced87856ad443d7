package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/internal/infrastructure/retry"
)

// HistoryRepository implements port.HistoryRepository.
// Rows are insert-only; the payload is stored as JSON.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts one history entry
func (r *HistoryRepository) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode history payload: %w", err)
	}

	_, err = sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO order_history (id, order_id, actor, event_type, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrderID, entry.Actor, entry.EventType, string(payload), entry.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append history",
			zap.Int64("order_id", entry.OrderID),
			zap.String("event_type", entry.EventType),
			zap.Error(err),
		)
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListByOrder returns an order's entries oldest first
func (r *HistoryRepository) ListByOrder(ctx context.Context, orderID int64) ([]*entity.HistoryEntry, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, `
		SELECT id, order_id, actor, event_type, payload, timestamp
		FROM order_history
		WHERE order_id = ?
		ORDER BY timestamp ASC, rowid ASC`, orderID)
	if err != nil {
		r.logger.Error("Failed to list history", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, retry.Classify("list history", fmt.Errorf("failed to list history: %w", err))
	}
	defer rows.Close()

	var entries []*entity.HistoryEntry
	for rows.Next() {
		var (
			e       entity.HistoryEntry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Actor, &e.EventType, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("history entry %s has malformed payload: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

var _ port.HistoryRepository = (*HistoryRepository)(nil)
