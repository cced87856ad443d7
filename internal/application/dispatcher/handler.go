package dispatcher

import (
	"context"

	"github.com/garyjia/po-workflow/internal/domain/event"
)

// Handler reacts to an order notification
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// AnyType subscribes a handler to every notification kind
const AnyType event.Type = "*"
