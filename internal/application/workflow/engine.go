package workflow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/po-workflow/internal/application/authority"
	"github.com/garyjia/po-workflow/internal/application/history"
	"github.com/garyjia/po-workflow/internal/application/orderstate"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// WorkflowEngine orchestrates the purchase order lifecycle
type WorkflowEngine interface {
	// CreateOrder numbers and stores a draft, then runs its first workflow step
	CreateOrder(ctx context.Context, input NewOrder, actorID string) (*Result, error)

	// ProcessNextStep advances the order by whatever step its current state calls for
	ProcessNextStep(ctx context.Context, orderID int64, actorID string) (*Result, error)

	// ProcessApproval applies an approver's decision to a pending order
	ProcessApproval(ctx context.Context, orderID int64, approverID string, decision Decision, comments string) (*Result, error)

	// ConfirmDelivery records receipt of a sent order
	ConfirmDelivery(ctx context.Context, orderID int64, actorID string, meta orderstate.DeliveryMetadata) (*Result, error)

	// TrackWorkflowProgress returns a read-only progress view of the order
	TrackWorkflowProgress(ctx context.Context, orderID int64) (*WorkflowStatus, error)

	// CheckAuthority reports how an amount would be routed for a user
	CheckAuthority(ctx context.Context, userID string, amount decimal.Decimal) (*AuthorityReport, error)
}

// NewOrder is the caller-supplied part of a new purchase order
type NewOrder struct {
	VendorID    int64
	TotalAmount decimal.Decimal
	Notes       string
	Origin      string
}

// Decision is an approver's verdict
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Result is the outcome of a mutating call. Order is the latest committed state;
// Event is the last notification emitted, nil when nothing transitioned.
type Result struct {
	Order       *entity.Order
	Event       *event.Event
	Transitions int
	// Awaiting lists the triggers an order is waiting on when no step could be taken
	Awaiting []domainwf.Trigger
	Warnings []string
	// Degraded is set when a transition committed but its history entry could not be written
	Degraded bool
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// merge folds a follow-up step's outcome into r
func (r *Result) merge(next *Result) {
	if next == nil {
		return
	}
	if next.Order != nil {
		r.Order = next.Order
	}
	if next.Event != nil {
		r.Event = next.Event
	}
	r.Transitions += next.Transitions
	r.Warnings = append(r.Warnings, next.Warnings...)
	r.Degraded = r.Degraded || next.Degraded
}

// WorkflowStatus is the derived progress view of an order
type WorkflowStatus struct {
	OrderID        int64                 `json:"order_id"`
	OrderNumber    string                `json:"order_number"`
	OrderStatus    entity.OrderStatus    `json:"order_status"`
	ApprovalStatus entity.ApprovalStatus `json:"approval_status"`
	BypassReason   entity.BypassReason   `json:"bypass_reason,omitempty"`
	NextApproverID string                `json:"next_approver_id,omitempty"`
	Step           history.Step          `json:"step"`
	// AllowedActions lists the triggers that can still move the order
	AllowedActions []domainwf.Trigger     `json:"allowed_actions"`
	History        []*entity.HistoryEntry `json:"history"`
	// HistoryConsistent reports whether replaying History lands on the stored state
	HistoryConsistent bool `json:"history_consistent"`
}

// AuthorityReport combines an authority check with the approval chain for the amount
type AuthorityReport struct {
	UserID            string               `json:"user_id"`
	Amount            decimal.Decimal      `json:"amount"`
	Check             *authority.Check     `json:"check"`
	RequiredApprovers []authority.Approver `json:"required_approvers"`
}
