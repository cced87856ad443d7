package entity

// OrderStatus is the lifecycle position of a purchase order
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusSent      OrderStatus = "sent"
	OrderStatusDelivered OrderStatus = "delivered"
)

// IsValid returns true if the status is one of the defined lifecycle positions
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusDraft, OrderStatusCreated, OrderStatusSent, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// ApprovalStatus is the approval dimension of a purchase order, orthogonal to OrderStatus
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// IsValid returns true if the status is one of the defined approval states
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalNotRequired, ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

// BypassReason explains why an order skipped human approval
type BypassReason string

const (
	BypassDirectApproval  BypassReason = "direct_approval"
	BypassAmountThreshold BypassReason = "amount_threshold"
	BypassEmergency       BypassReason = "emergency"
	BypassRepeatOrder     BypassReason = "repeat_order"
	BypassExcelAutomation BypassReason = "excel_automation"
)

// IsValid returns true if the reason is a known bypass reason
func (r BypassReason) IsValid() bool {
	switch r {
	case BypassDirectApproval, BypassAmountThreshold, BypassEmergency, BypassRepeatOrder, BypassExcelAutomation:
		return true
	default:
		return false
	}
}

// Role constants for users and approval authorities
const (
	RoleFieldWorker    = "field_worker"
	RoleProjectManager = "project_manager"
	RoleHQManagement   = "hq_management"
	RoleExecutive      = "executive"
	RoleAdmin          = "admin"
)

// Order origin constants
const (
	OriginManual      = "manual"
	OriginExcelImport = "excel_import"
)

// ActorSystem is recorded as the actor of transitions nobody triggered directly
const ActorSystem = "system"

// History event type constants
const (
	HistoryOrderCreated      = "created"
	HistoryApprovalRequested = "approval_requested"
	HistoryDirectApproved    = "direct_approved"
	HistoryAutoApproved      = "auto_approved"
	HistoryApproved          = "approved"
	HistoryRejected          = "rejected"
	HistorySent              = "sent"
	HistoryDeliveryConfirmed = "delivery_confirmed"
)
