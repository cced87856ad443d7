package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerDirectApprove   Trigger = "direct_approve"
	TriggerRequestApproval Trigger = "request_approval"
	TriggerAutoApprove     Trigger = "auto_approve"
	TriggerApprove         Trigger = "approve"
	TriggerReject          Trigger = "reject"
	TriggerSend            Trigger = "send"
	TriggerConfirmDelivery Trigger = "confirm_delivery"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
