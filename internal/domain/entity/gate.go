package entity

// ApprovalGate is the approval-dimension variant of an order. Each variant
// carries only the fields that are meaningful for its ApprovalStatus, so a
// pending order always names its approver and only a bypassed order carries
// a bypass reason.
type ApprovalGate interface {
	Status() ApprovalStatus
	isGate()
}

// GateOpen is not_required without a recorded bypass
type GateOpen struct{}

// GateBypassed is not_required because a bypass rule fired
type GateBypassed struct {
	Reason BypassReason
}

// GatePending waits for NextApproverID to decide
type GatePending struct {
	NextApproverID string
}

// GateApproved records that a human approved the order
type GateApproved struct{}

// GateRejected records that a human rejected the order
type GateRejected struct {
	Reason string
}

func (GateOpen) Status() ApprovalStatus     { return ApprovalNotRequired }
func (GateBypassed) Status() ApprovalStatus { return ApprovalNotRequired }
func (GatePending) Status() ApprovalStatus  { return ApprovalPending }
func (GateApproved) Status() ApprovalStatus { return ApprovalApproved }
func (GateRejected) Status() ApprovalStatus { return ApprovalRejected }

func (GateOpen) isGate()     {}
func (GateBypassed) isGate() {}
func (GatePending) isGate()  {}
func (GateApproved) isGate() {}
func (GateRejected) isGate() {}

// BypassReasonOf returns the bypass reason carried by the gate, if any
func BypassReasonOf(g ApprovalGate) (BypassReason, bool) {
	if b, ok := g.(GateBypassed); ok {
		return b.Reason, true
	}
	return "", false
}

// NextApproverOf returns the pending approver carried by the gate, if any
func NextApproverOf(g ApprovalGate) (string, bool) {
	if p, ok := g.(GatePending); ok {
		return p.NextApproverID, true
	}
	return "", false
}

// GateFromColumns rebuilds a gate from its flattened storage representation
func GateFromColumns(status ApprovalStatus, bypassReason, nextApproverID, rejectionReason string) (ApprovalGate, error) {
	switch status {
	case ApprovalNotRequired:
		if bypassReason != "" {
			return GateBypassed{Reason: BypassReason(bypassReason)}, nil
		}
		return GateOpen{}, nil
	case ApprovalPending:
		return GatePending{NextApproverID: nextApproverID}, nil
	case ApprovalApproved:
		return GateApproved{}, nil
	case ApprovalRejected:
		return GateRejected{Reason: rejectionReason}, nil
	default:
		return nil, &InvalidGateError{Status: status}
	}
}

// InvalidGateError is returned when a stored approval status is unknown
type InvalidGateError struct {
	Status ApprovalStatus
}

func (e *InvalidGateError) Error() string {
	return "unknown approval status: " + string(e.Status)
}
