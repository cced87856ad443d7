package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
	"github.com/garyjia/po-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/po-workflow/internal/infrastructure/retry"
)

// OrderRepository implements port.OrderRepository.
// The approval gate is flattened into approval_status plus its variant columns.
type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

type gateColumns struct {
	status          entity.ApprovalStatus
	bypassReason    string
	nextApproverID  string
	rejectionReason string
}

func flattenGate(g entity.ApprovalGate) gateColumns {
	cols := gateColumns{status: g.Status()}
	switch v := g.(type) {
	case entity.GateBypassed:
		cols.bypassReason = string(v.Reason)
	case entity.GatePending:
		cols.nextApproverID = v.NextApproverID
	case entity.GateRejected:
		cols.rejectionReason = v.Reason
	}
	return cols
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Create inserts a new order and assigns its ID
func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	gate := flattenGate(order.Gate)
	query := `
		INSERT INTO purchase_orders (
			order_number, vendor_id, created_by, total_amount, notes, origin,
			order_status, approval_status, bypass_reason, next_approver_id, rejection_reason,
			approval_requested_at, approved_by, approved_at, rejected_by, rejected_at,
			sent_at, delivered_by, delivered_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		order.OrderNumber, order.VendorID, order.CreatedBy, order.TotalAmount.String(), order.Notes, order.Origin,
		order.OrderStatus, gate.status, gate.bypassReason, gate.nextApproverID, gate.rejectionReason,
		timeArg(order.ApprovalRequestedAt), order.ApprovedBy, timeArg(order.ApprovedAt),
		order.RejectedBy, timeArg(order.RejectedAt),
		timeArg(order.SentAt), order.DeliveredBy, timeArg(order.DeliveredAt),
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create order", zap.String("order_number", order.OrderNumber), zap.Error(err))
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	order.ID = id
	return nil
}

const selectOrder = `
	SELECT id, order_number, vendor_id, created_by, total_amount, notes, origin,
		order_status, approval_status, bypass_reason, next_approver_id, rejection_reason,
		approval_requested_at, approved_by, approved_at, rejected_by, rejected_at,
		sent_at, delivered_by, delivered_at, created_at, updated_at
	FROM purchase_orders
`

// GetByID returns nil, nil when the order does not exist
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	row := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, selectOrder+" WHERE id = ?", id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get order by ID", zap.Int64("id", id), zap.Error(err))
		return nil, retry.Classify("get order", fmt.Errorf("failed to get order: %w", err))
	}
	return order, nil
}

func scanOrder(row *sql.Row) (*entity.Order, error) {
	var (
		o                                                        entity.Order
		gate                                                     gateColumns
		requestedAt, approvedAt, rejectedAt, sentAt, deliveredAt sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.VendorID, &o.CreatedBy, &o.TotalAmount, &o.Notes, &o.Origin,
		&o.OrderStatus, &gate.status, &gate.bypassReason, &gate.nextApproverID, &gate.rejectionReason,
		&requestedAt, &o.ApprovedBy, &approvedAt, &o.RejectedBy, &rejectedAt,
		&sentAt, &o.DeliveredBy, &deliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Gate, err = entity.GateFromColumns(gate.status, gate.bypassReason, gate.nextApproverID, gate.rejectionReason)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", o.ID, err)
	}
	o.ApprovalRequestedAt = nullTimePtr(requestedAt)
	o.ApprovedAt = nullTimePtr(approvedAt)
	o.RejectedAt = nullTimePtr(rejectedAt)
	o.SentAt = nullTimePtr(sentAt)
	o.DeliveredAt = nullTimePtr(deliveredAt)
	return &o, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// CompareAndSwap writes every mutable column of order if the stored state still equals expected
func (r *OrderRepository) CompareAndSwap(ctx context.Context, expected domainwf.State, order *entity.Order) (bool, error) {
	gate := flattenGate(order.Gate)
	query := `
		UPDATE purchase_orders SET
			notes = ?, order_status = ?, approval_status = ?,
			bypass_reason = ?, next_approver_id = ?, rejection_reason = ?,
			approval_requested_at = ?, approved_by = ?, approved_at = ?,
			rejected_by = ?, rejected_at = ?, sent_at = ?,
			delivered_by = ?, delivered_at = ?, updated_at = ?
		WHERE id = ? AND order_status = ? AND approval_status = ?
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		order.Notes, order.OrderStatus, gate.status,
		gate.bypassReason, gate.nextApproverID, gate.rejectionReason,
		timeArg(order.ApprovalRequestedAt), order.ApprovedBy, timeArg(order.ApprovedAt),
		order.RejectedBy, timeArg(order.RejectedAt), timeArg(order.SentAt),
		order.DeliveredBy, timeArg(order.DeliveredAt), order.UpdatedAt.UTC(),
		order.ID, expected.Order, expected.Approval,
	)
	if err != nil {
		r.logger.Error("Failed to update order",
			zap.Int64("id", order.ID),
			zap.String("expected", expected.String()),
			zap.Error(err),
		)
		return false, fmt.Errorf("failed to update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// HasDeliveredForVendorSince reports whether another order for the vendor was delivered at or after since
func (r *OrderRepository) HasDeliveredForVendorSince(ctx context.Context, vendorID int64, since time.Time, excludeOrderID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM purchase_orders
			WHERE vendor_id = ? AND order_status = ? AND delivered_at >= ? AND id != ?
		)
	`

	var found bool
	err := sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query,
		vendorID, entity.OrderStatusDelivered, since.UTC(), excludeOrderID,
	).Scan(&found)
	if err != nil {
		r.logger.Error("Failed to check repeat orders", zap.Int64("vendor_id", vendorID), zap.Error(err))
		return false, retry.Classify("check repeat order", fmt.Errorf("failed to check repeat orders: %w", err))
	}
	return found, nil
}

var _ port.OrderRepository = (*OrderRepository)(nil)
