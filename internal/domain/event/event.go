package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a notification about an order transition
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	OrderID   int64                  `json:"order_id"`
	Actor     string                 `json:"actor"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID stamped at the given time
func NewEvent(eventType Type, orderID int64, actor string, payload map[string]interface{}, at time.Time) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		OrderID:   orderID,
		Actor:     actor,
		Payload:   payload,
		Timestamp: at,
	}
}

// WithPayload returns a copy of the event with one more payload entry; the receiver is left unchanged
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	out := *e
	out.Payload = newPayload
	return &out
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
