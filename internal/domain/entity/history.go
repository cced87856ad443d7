package entity

import "time"

// HistoryEntry is one immutable record in an order's audit trail
type HistoryEntry struct {
	ID        string         `json:"id"`
	OrderID   int64          `json:"order_id"`
	Actor     string         `json:"actor"`
	EventType string         `json:"event_type"`
	Payload   HistoryPayload `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// HistoryPayload is the structured diff of a transition
type HistoryPayload struct {
	FromOrderStatus    OrderStatus            `json:"from_order_status,omitempty"`
	FromApprovalStatus ApprovalStatus         `json:"from_approval_status,omitempty"`
	ToOrderStatus      OrderStatus            `json:"to_order_status"`
	ToApprovalStatus   ApprovalStatus         `json:"to_approval_status"`
	Fields             map[string]interface{} `json:"fields,omitempty"`
}
