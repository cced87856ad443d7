package workflow

import "context"

// StateMachine walks one order's compound state through the configured triggers
type StateMachine interface {
	State() State

	// CanFire reports whether trigger leaves State
	CanFire(trigger Trigger) bool

	// Fire moves to the trigger's target or returns ErrInvalidTransition
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers lists the triggers leaving State in name order
	PermittedTriggers() []Trigger
}
