package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/po-workflow/internal/application/orderstate"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// committed describes a durable state change whose side effects are still to run
type committed struct {
	order     *entity.Order
	from      domainwf.State
	to        domainwf.State
	actor     string
	entryType string
	fields    map[string]interface{}
}

var notificationFor = map[string]event.Type{
	entity.HistoryOrderCreated:      event.TypeOrderUpdated,
	entity.HistoryDirectApproved:    event.TypeOrderUpdated,
	entity.HistoryAutoApproved:      event.TypeOrderUpdated,
	entity.HistoryApprovalRequested: event.TypeApprovalRequested,
	entity.HistoryApproved:          event.TypeOrderApproved,
	entity.HistoryRejected:          event.TypeOrderRejected,
	entity.HistorySent:              event.TypeOrderSent,
	entity.HistoryDeliveryConfirmed: event.TypeDeliveryConfirmed,
}

// transition applies change to order and runs the post-commit pipeline.
// extra is an alternating key/value list copied into the history payload.
func (e *engineImpl) transition(ctx context.Context, order *entity.Order, change orderstate.Change, entryType string, extra ...interface{}) (*Result, error) {
	from := domainwf.StateOf(order)

	next, err := e.Store.ApplyTo(ctx, order, change)
	if err != nil {
		return nil, err
	}

	res := &Result{Order: next, Transitions: 1}
	e.afterCommit(ctx, res, committed{
		order:     next,
		from:      from,
		to:        domainwf.StateOf(next),
		actor:     change.Actor,
		entryType: entryType,
		fields:    transitionFields(next, extra),
	})
	return res, nil
}

// afterCommit runs history then notification. Neither can undo the committed change.
func (e *engineImpl) afterCommit(ctx context.Context, res *Result, c committed) {
	if _, err := e.Ledger.Record(ctx, c.order.ID, c.actor, c.entryType, c.from, c.to, c.fields); err != nil {
		e.Logger.Error("History append failed after commit",
			"order_id", c.order.ID,
			"event", c.entryType,
			"error", err,
		)
		res.Degraded = true
		res.warn(fmt.Sprintf("history not recorded: %v", err))
	}

	evt := event.NewEvent(notificationFor[c.entryType], c.order.ID, c.actor, notificationPayload(c), e.Clock.Now())
	res.Event = evt

	// Handlers may outlive the request.
	if err := e.Sink.Notify(context.WithoutCancel(ctx), evt); err != nil {
		e.Logger.Warn("Notification dispatch failed",
			"order_id", c.order.ID,
			"event_type", evt.Type.String(),
			"error", err,
		)
		res.warn(fmt.Sprintf("notification not dispatched: %v", err))
	}
}

func transitionFields(o *entity.Order, extra []interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	if r := o.BypassReason(); r != "" {
		fields["bypass_reason"] = string(r)
	}
	if id := o.NextApproverID(); id != "" {
		fields["next_approver_id"] = id
	}
	for i := 0; i+1 < len(extra); i += 2 {
		key, ok := extra[i].(string)
		if !ok {
			continue
		}
		if s, isString := extra[i+1].(string); isString && s == "" {
			continue
		}
		fields[key] = extra[i+1]
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func notificationPayload(c committed) map[string]interface{} {
	payload := map[string]interface{}{
		"order_number":    c.order.OrderNumber,
		"order_status":    string(c.to.Order),
		"approval_status": string(c.to.Approval),
		"created_by":      c.order.CreatedBy,
		"total_amount":    c.order.TotalAmount.String(),
	}
	if c.from != (domainwf.State{}) {
		payload["from_order_status"] = string(c.from.Order)
		payload["from_approval_status"] = string(c.from.Approval)
	}
	for k, v := range c.fields {
		payload[k] = v
	}
	return payload
}
