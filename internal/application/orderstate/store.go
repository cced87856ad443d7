package orderstate

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Store applies compound-state transitions with compare-and-swap semantics
type Store struct {
	orders  port.OrderRepository
	clock   port.Clock
	logger  Logger
	timeout time.Duration
}

// Option configures the store
type Option func(*Store)

// WithTimeout bounds every repository call made by the store
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// NewStore creates a new order state store
func NewStore(orders port.OrderRepository, clock port.Clock, logger Logger, opts ...Option) *Store {
	s := &Store{
		orders:  orders,
		clock:   clock,
		logger:  logger,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Load returns the order or an OrderNotFoundError
func (s *Store) Load(ctx context.Context, orderID int64) (*entity.Order, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order == nil {
		return nil, &domainwf.OrderNotFoundError{OrderID: orderID}
	}
	return order, nil
}

// ApplyTransition moves order orderID from expected to the state reached by change.Trigger.
// The write happens only if the stored state still equals expected; otherwise a ConflictError
// (or OrderNotFoundError when the row is gone) is returned and nothing is written.
func (s *Store) ApplyTransition(ctx context.Context, orderID int64, expected domainwf.State, change Change) (*entity.Order, error) {
	current, err := s.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actual := domainwf.StateOf(current); actual != expected {
		return nil, &domainwf.ConflictError{OrderID: orderID, Expected: expected, Actual: actual}
	}
	return s.apply(ctx, current, change)
}

// ApplyTo is ApplyTransition for a caller that already holds the order snapshot it decided on
func (s *Store) ApplyTo(ctx context.Context, current *entity.Order, change Change) (*entity.Order, error) {
	return s.apply(ctx, current, change)
}

func (s *Store) apply(ctx context.Context, current *entity.Order, change Change) (*entity.Order, error) {
	expected := domainwf.StateOf(current)

	to, err := domainwf.Next(ctx, expected, change.Trigger)
	if err != nil {
		return nil, &domainwf.InvalidStateError{
			OrderID:  current.ID,
			Actual:   expected,
			Required: "a state permitting " + change.Trigger.String(),
		}
	}

	now := s.clock.Now()
	next := current.Clone()

	// Resubmitting a rejected draft starts a fresh approval round
	if expected == domainwf.StateDraftRejected {
		next.RejectedBy = ""
		next.RejectedAt = nil
	}
	if change.apply != nil {
		change.apply(next, now)
	}
	next.OrderStatus = to.Order
	next.UpdatedAt = now

	if got := domainwf.StateOf(next); got != to {
		return nil, fmt.Errorf("%w: %s produced %s, want %s", domainwf.ErrInvalidState, change.Trigger, got, to)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidState, err)
	}

	wctx, cancel := s.bounded(ctx)
	swapped, err := s.orders.CompareAndSwap(wctx, expected, next)
	cancel()
	if err != nil {
		s.logger.Error("Conditional order update failed",
			"order_id", current.ID,
			"trigger", change.Trigger.String(),
			"error", err,
		)
		return nil, fmt.Errorf("apply %s to order %d: %w", change.Trigger, current.ID, err)
	}

	if !swapped {
		return nil, s.explainMiss(ctx, current.ID, expected)
	}

	s.logger.Info("Order transitioned",
		"order_id", current.ID,
		"trigger", change.Trigger.String(),
		"from", expected.String(),
		"to", to.String(),
		"actor", change.Actor,
	)
	return next, nil
}

// explainMiss distinguishes a vanished order from a lost race after a zero-row update
func (s *Store) explainMiss(ctx context.Context, orderID int64, expected domainwf.State) error {
	stored, err := s.Load(ctx, orderID)
	if err != nil {
		return err
	}
	actual := domainwf.StateOf(stored)
	s.logger.Warn("Order changed concurrently",
		"order_id", orderID,
		"expected", expected.String(),
		"actual", actual.String(),
	)
	return &domainwf.ConflictError{OrderID: orderID, Expected: expected, Actual: actual}
}
