package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// Ledger is the append-only audit trail of order transitions
type Ledger struct {
	repo    port.HistoryRepository
	clock   port.Clock
	timeout time.Duration
}

// NewLedger creates a new history ledger; timeout bounds each repository call when positive
func NewLedger(repo port.HistoryRepository, clock port.Clock, timeout time.Duration) *Ledger {
	return &Ledger{
		repo:    repo,
		clock:   clock,
		timeout: timeout,
	}
}

func (l *Ledger) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

// Append stores entry, filling in ID and Timestamp when unset
func (l *Ledger) Append(ctx context.Context, entry *entity.HistoryEntry) error {
	if entry.OrderID == 0 {
		return fmt.Errorf("history entry needs an order id")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now()
	}
	if entry.Actor == "" {
		entry.Actor = entity.ActorSystem
	}

	ctx, cancel := l.bounded(ctx)
	defer cancel()
	if err := l.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("append history for order %d: %w", entry.OrderID, err)
	}
	return nil
}

// Record appends an entry describing a from -> to transition.
// A zero from marks the entry that created the order.
func (l *Ledger) Record(ctx context.Context, orderID int64, actor, eventType string, from, to domainwf.State, fields map[string]interface{}) (*entity.HistoryEntry, error) {
	entry := &entity.HistoryEntry{
		OrderID:   orderID,
		Actor:     actor,
		EventType: eventType,
		Payload: entity.HistoryPayload{
			FromOrderStatus:    from.Order,
			FromApprovalStatus: from.Approval,
			ToOrderStatus:      to.Order,
			ToApprovalStatus:   to.Approval,
			Fields:             fields,
		},
	}
	if err := l.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByOrder returns a restartable cursor over the order's history, oldest first
func (l *Ledger) ListByOrder(ctx context.Context, orderID int64) (*Cursor, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	entries, err := l.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history for order %d: %w", orderID, err)
	}
	return NewCursor(entries), nil
}
