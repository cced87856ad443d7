package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrNoApproverAvailable is reported when no active user can approve an amount
	ErrNoApproverAvailable = errors.New("no approver available")
)

// OrderNotFoundError is returned when an order id does not resolve
type OrderNotFoundError struct {
	OrderID int64
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %d not found", e.OrderID)
}

// UserNotFoundError is returned when a user id does not resolve to an active user
type UserNotFoundError struct {
	UserID string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %q not found", e.UserID)
}

// NotPendingError is returned when an approval decision targets an order that is not awaiting one
type NotPendingError struct {
	OrderID int64
	Actual  State
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("order %d is not pending approval (state %s)", e.OrderID, e.Actual)
}

// InvalidStateError is returned when an operation's lifecycle precondition does not hold
type InvalidStateError struct {
	OrderID  int64
	Actual   State
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %d is in state %s, requires %s", e.OrderID, e.Actual, e.Required)
}

// ConflictError is returned when the stored state changed between read and conditional write
type ConflictError struct {
	OrderID  int64
	Expected State
	Actual   State
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %d changed concurrently: expected %s, found %s", e.OrderID, e.Expected, e.Actual)
}

// TransientError wraps a storage failure that may succeed when retried
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
