package port

import (
	"context"
	"time"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
)

// NotificationSink receives order notifications after a transition has committed.
// Delivery is best effort; implementations must not block on slow consumers.
type NotificationSink interface {
	Notify(ctx context.Context, evt *event.Event) error
}

// EmailGateway dispatches a purchase order to its vendor
type EmailGateway interface {
	SendPurchaseOrder(ctx context.Context, vendor *entity.Vendor, order *entity.Order) error
}

// Clock is the engine's time source
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now calls f
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns wall-clock time in UTC
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Retrier re-runs a read that failed with a transient error.
// Callers only pass operations that have not written anything.
type Retrier interface {
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) error
}
