package event

// Type identifies the kind of order notification
type Type string

const (
	TypeOrderUpdated      Type = "order_updated"
	TypeApprovalRequested Type = "approval_requested"
	TypeOrderApproved     Type = "order_approved"
	TypeOrderRejected     Type = "order_rejected"
	TypeDeliveryConfirmed Type = "delivery_confirmed"
	TypeOrderSent         Type = "order_sent"
)

// AllTypes lists every notification kind in a stable order
var AllTypes = []Type{
	TypeOrderUpdated,
	TypeApprovalRequested,
	TypeOrderApproved,
	TypeOrderRejected,
	TypeDeliveryConfirmed,
	TypeOrderSent,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeOrderUpdated,
		TypeApprovalRequested,
		TypeOrderApproved,
		TypeOrderRejected,
		TypeDeliveryConfirmed,
		TypeOrderSent:
		return true
	default:
		return false
	}
}
