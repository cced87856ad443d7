package workflow

import "github.com/garyjia/po-workflow/internal/domain/entity"

// State is the compound lifecycle position of an order
type State struct {
	Order    entity.OrderStatus
	Approval entity.ApprovalStatus
}

var (
	StateDraft            = State{entity.OrderStatusDraft, entity.ApprovalNotRequired}
	StateDraftRejected    = State{entity.OrderStatusDraft, entity.ApprovalRejected}
	StatePendingApproval  = State{entity.OrderStatusCreated, entity.ApprovalPending}
	StateApproved         = State{entity.OrderStatusCreated, entity.ApprovalApproved}
	StateCreatedNoApprove = State{entity.OrderStatusCreated, entity.ApprovalNotRequired}
	StateSent             = State{entity.OrderStatusSent, entity.ApprovalNotRequired}
	StateDelivered        = State{entity.OrderStatusDelivered, entity.ApprovalNotRequired}
)

// InitialState is where every new order starts
var InitialState = StateDraft

var validStates = map[State]bool{
	StateDraft:            true,
	StateDraftRejected:    true,
	StatePendingApproval:  true,
	StateApproved:         true,
	StateCreatedNoApprove: true,
	StateSent:             true,
	StateDelivered:        true,
}

var terminalStates = map[State]bool{
	StateDelivered: true,
}

// StateOf returns the compound state currently held by the order
func StateOf(o *entity.Order) State {
	return State{Order: o.OrderStatus, Approval: o.ApprovalStatus()}
}

// IsTerminal returns true if no further transitions leave the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the "order/approval" representation of the state
func (s State) String() string {
	return string(s.Order) + "/" + string(s.Approval)
}

// IsValid returns true if the pair is one of the persistable compound states
func (s State) IsValid() bool {
	return validStates[s]
}
