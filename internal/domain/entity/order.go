package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a purchase order as seen by the workflow engine
type Order struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	VendorID    int64           `json:"vendor_id"`
	CreatedBy   string          `json:"created_by"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes,omitempty"`
	Origin      string          `json:"origin"`

	OrderStatus OrderStatus  `json:"order_status"`
	Gate        ApprovalGate `json:"-"`

	ApprovalRequestedAt *time.Time `json:"approval_requested_at,omitempty"`
	ApprovedBy          string     `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	RejectedBy          string     `json:"rejected_by,omitempty"`
	RejectedAt          *time.Time `json:"rejected_at,omitempty"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	DeliveredBy         string     `json:"delivered_by,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDraftOrder returns an order in its initial draft/not_required position
func NewDraftOrder(vendorID int64, createdBy string, amount decimal.Decimal, notes, origin string, now time.Time) *Order {
	if origin == "" {
		origin = OriginManual
	}
	o := &Order{
		VendorID:    vendorID,
		CreatedBy:   createdBy,
		TotalAmount: amount,
		Notes:       notes,
		Origin:      origin,
		OrderStatus: OrderStatusDraft,
		Gate:        GateOpen{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Bulk-imported orders carry their bypass from the import itself.
	if origin == OriginExcelImport {
		o.Gate = GateBypassed{Reason: BypassExcelAutomation}
	}
	return o
}

// ApprovalStatus returns the approval dimension derived from the gate
func (o *Order) ApprovalStatus() ApprovalStatus {
	if o.Gate == nil {
		return ApprovalNotRequired
	}
	return o.Gate.Status()
}

// BypassReason returns the recorded bypass reason, empty when none
func (o *Order) BypassReason() BypassReason {
	r, _ := BypassReasonOf(o.Gate)
	return r
}

// NextApproverID returns the pending approver, empty unless pending
func (o *Order) NextApproverID() string {
	id, _ := NextApproverOf(o.Gate)
	return id
}

// RejectionReason returns the reason recorded by a rejection, empty otherwise
func (o *Order) RejectionReason() string {
	if r, ok := o.Gate.(GateRejected); ok {
		return r.Reason
	}
	return ""
}

// Clone returns a copy that shares no mutable timestamps with o
func (o *Order) Clone() *Order {
	c := *o
	c.ApprovalRequestedAt = cloneTime(o.ApprovalRequestedAt)
	c.ApprovedAt = cloneTime(o.ApprovedAt)
	c.RejectedAt = cloneTime(o.RejectedAt)
	c.SentAt = cloneTime(o.SentAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	return &c
}

// Validate checks the field-level invariants of an order
func (o *Order) Validate() error {
	if !o.OrderStatus.IsValid() {
		return fmt.Errorf("invalid order status %q", o.OrderStatus)
	}
	if o.Gate == nil {
		return errors.New("approval gate is required")
	}
	if o.TotalAmount.IsNegative() {
		return fmt.Errorf("total amount must be non-negative, got %s", o.TotalAmount)
	}
	switch g := o.Gate.(type) {
	case GatePending:
		if g.NextApproverID == "" {
			return errors.New("pending order must name its next approver")
		}
		if o.ApprovalRequestedAt == nil {
			return errors.New("pending order must record when approval was requested")
		}
	case GateBypassed:
		if !g.Reason.IsValid() {
			return fmt.Errorf("invalid bypass reason %q", g.Reason)
		}
	case GateApproved:
		if o.ApprovedBy == "" || o.ApprovedAt == nil {
			return errors.New("approved order must record approver and time")
		}
	case GateRejected:
		if o.RejectedBy == "" || o.RejectedAt == nil {
			return errors.New("rejected order must record rejecter and time")
		}
	}
	if o.OrderStatus == OrderStatusSent || o.OrderStatus == OrderStatusDelivered {
		if o.SentAt == nil {
			return errors.New("sent order must record sent time")
		}
	}
	if o.OrderStatus == OrderStatusDelivered && o.DeliveredAt == nil {
		return errors.New("delivered order must record delivery time")
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
