package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/domain/event"
)

// LogSubscriber writes every order event to the structured log
type LogSubscriber struct {
	logger *zap.Logger
}

// NewLogSubscriber creates a new log subscriber
func NewLogSubscriber(logger *zap.Logger) *LogSubscriber {
	return &LogSubscriber{logger: logger.Named("events")}
}

// Handle logs evt with its order identifiers
func (s *LogSubscriber) Handle(_ context.Context, evt *event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.Int64("order_id", evt.OrderID),
		zap.String("actor", evt.Actor),
		zap.Time("at", evt.Timestamp),
	}
	if n := evt.GetPayloadString("order_number"); n != "" {
		fields = append(fields, zap.String("order_number", n))
	}
	if st := evt.GetPayloadString("order_status"); st != "" {
		fields = append(fields, zap.String("order_status", st), zap.String("approval_status", evt.GetPayloadString("approval_status")))
	}
	if r := evt.GetPayloadString("bypass_reason"); r != "" {
		fields = append(fields, zap.String("bypass_reason", r))
	}
	s.logger.Info("Order event", fields...)
	return nil
}
