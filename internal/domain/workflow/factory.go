package workflow

import "context"

var lifecycle = orderLifecycle()

// BuildOrderStateMachine creates a state machine configured for the purchase order lifecycle
func BuildOrderStateMachine(initialState State) StateMachine {
	return lifecycle.Build(initialState)
}

func orderLifecycle() *Builder {
	builder := NewBuilder()

	// Fresh drafts and rejected resubmissions route the same way
	for _, draft := range []State{StateDraft, StateDraftRejected} {
		builder.Configure(draft).
			Permit(TriggerDirectApprove, StateCreatedNoApprove).
			Permit(TriggerRequestApproval, StatePendingApproval).
			Permit(TriggerAutoApprove, StateCreatedNoApprove)
	}

	builder.Configure(StatePendingApproval).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateDraftRejected)

	builder.Configure(StateApproved).
		Permit(TriggerSend, StateSent)

	builder.Configure(StateCreatedNoApprove).
		Permit(TriggerSend, StateSent)

	builder.Configure(StateSent).
		Permit(TriggerConfirmDelivery, StateDelivered)

	// DELIVERED is terminal

	return builder
}

// Permits reports whether trigger leaves from
func Permits(from State, trigger Trigger) bool {
	return from.IsValid() && BuildOrderStateMachine(from).CanFire(trigger)
}

// TriggersFrom lists the triggers leaving from in name order; nil for terminal or invalid states
func TriggersFrom(from State) []Trigger {
	if !from.IsValid() || from.IsTerminal() {
		return nil
	}
	return BuildOrderStateMachine(from).PermittedTriggers()
}

// Next returns the state reached by firing trigger from the given state
func Next(ctx context.Context, from State, trigger Trigger) (State, error) {
	if !from.IsValid() {
		return State{}, ErrInvalidState
	}
	machine := BuildOrderStateMachine(from)
	if err := machine.Fire(ctx, trigger); err != nil {
		return from, err
	}
	return machine.State(), nil
}
