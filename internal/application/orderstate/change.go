package orderstate

import (
	"strings"
	"time"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// Change is a transition request: the trigger to fire plus the side fields it writes
type Change struct {
	Trigger domainwf.Trigger
	Actor   string
	apply   func(o *entity.Order, now time.Time)
}

// DirectApprove records that actor's own authority covered the order
func DirectApprove(actor string) Change {
	return Change{
		Trigger: domainwf.TriggerDirectApprove,
		Actor:   actor,
		apply: func(o *entity.Order, now time.Time) {
			o.Gate = entity.GateBypassed{Reason: entity.BypassDirectApproval}
			o.ApprovedBy = actor
			o.ApprovedAt = &now
		},
	}
}

// RequestApproval routes the order to approverID
func RequestApproval(actor, approverID string) Change {
	return Change{
		Trigger: domainwf.TriggerRequestApproval,
		Actor:   actor,
		apply: func(o *entity.Order, now time.Time) {
			o.Gate = entity.GatePending{NextApproverID: approverID}
			o.ApprovalRequestedAt = &now
		},
	}
}

// AutoApprove records a policy bypass
func AutoApprove(reason entity.BypassReason) Change {
	return Change{
		Trigger: domainwf.TriggerAutoApprove,
		Actor:   entity.ActorSystem,
		apply: func(o *entity.Order, now time.Time) {
			o.Gate = entity.GateBypassed{Reason: reason}
		},
	}
}

// Approve records a human approval
func Approve(approverID string) Change {
	return Change{
		Trigger: domainwf.TriggerApprove,
		Actor:   approverID,
		apply: func(o *entity.Order, now time.Time) {
			o.Gate = entity.GateApproved{}
			o.ApprovedBy = approverID
			o.ApprovedAt = &now
		},
	}
}

// Reject sends the order back to draft and drops the pending approval
func Reject(approverID, reason string) Change {
	return Change{
		Trigger: domainwf.TriggerReject,
		Actor:   approverID,
		apply: func(o *entity.Order, now time.Time) {
			o.Gate = entity.GateRejected{Reason: reason}
			o.RejectedBy = approverID
			o.RejectedAt = &now
			o.ApprovalRequestedAt = nil
			o.ApprovedBy = ""
			o.ApprovedAt = nil
		},
	}
}

// Send records dispatch to the vendor. A human approval is consumed here; a bypass is kept.
func Send(actor string) Change {
	return Change{
		Trigger: domainwf.TriggerSend,
		Actor:   actor,
		apply: func(o *entity.Order, now time.Time) {
			if _, approved := o.Gate.(entity.GateApproved); approved {
				o.Gate = entity.GateOpen{}
			}
			o.SentAt = &now
		},
	}
}

// DeliveryMetadata carries what the receiver reported
type DeliveryMetadata struct {
	Notes       string
	DeliveredAt *time.Time
	ReceivedBy  string
}

// ConfirmDelivery records receipt; notes are appended to the order notes
func ConfirmDelivery(actor string, meta DeliveryMetadata) Change {
	return Change{
		Trigger: domainwf.TriggerConfirmDelivery,
		Actor:   actor,
		apply: func(o *entity.Order, now time.Time) {
			at := now
			if meta.DeliveredAt != nil {
				at = *meta.DeliveredAt
			}
			o.DeliveredAt = &at
			o.DeliveredBy = actor
			if meta.ReceivedBy != "" {
				o.DeliveredBy = meta.ReceivedBy
			}
			if notes := strings.TrimSpace(meta.Notes); notes != "" {
				if o.Notes == "" {
					o.Notes = "[delivery] " + notes
				} else {
					o.Notes = o.Notes + "\n[delivery] " + notes
				}
			}
		},
	}
}
