package workflow

import (
	"context"
	"fmt"
	"sort"
)

// Builder accumulates a transition table. A trigger leads to exactly one
// target from any given state.
type Builder struct {
	table map[State]map[Trigger]State
}

// NewBuilder creates an empty transition table
func NewBuilder() *Builder {
	return &Builder{table: make(map[State]map[Trigger]State)}
}

// StateConfig adds the transitions leaving one state
type StateConfig struct {
	from    State
	targets map[Trigger]State
}

// Configure starts or extends the transitions leaving from
func (b *Builder) Configure(from State) *StateConfig {
	mustBeValid("state", from)
	targets, ok := b.table[from]
	if !ok {
		targets = make(map[Trigger]State)
		b.table[from] = targets
	}
	return &StateConfig{from: from, targets: targets}
}

// Permit lets trigger move the machine from the configured state to to.
// It panics when trigger is already bound to a different target.
func (c *StateConfig) Permit(trigger Trigger, to State) *StateConfig {
	mustBeValid("target state", to)
	if prev, ok := c.targets[trigger]; ok && prev != to {
		panic(fmt.Sprintf("%s from %s already leads to %s", trigger, c.from, prev))
	}
	c.targets[trigger] = to
	return c
}

// Build copies the table so later Configure calls do not reach the machine
func (b *Builder) Build(initial State) StateMachine {
	mustBeValid("initial state", initial)

	table := make(map[State]map[Trigger]State, len(b.table))
	for from, targets := range b.table {
		copied := make(map[Trigger]State, len(targets))
		for trigger, to := range targets {
			copied[trigger] = to
		}
		table[from] = copied
	}
	return &machine{current: initial, table: table}
}

func mustBeValid(what string, s State) {
	if !s.IsValid() {
		panic(fmt.Sprintf("invalid %s: %s", what, s))
	}
}

type machine struct {
	current State
	table   map[State]map[Trigger]State
}

func (m *machine) State() State {
	return m.current
}

func (m *machine) CanFire(trigger Trigger) bool {
	_, ok := m.table[m.current][trigger]
	return ok
}

func (m *machine) Fire(_ context.Context, trigger Trigger) error {
	to, ok := m.table[m.current][trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = to
	return nil
}

func (m *machine) PermittedTriggers() []Trigger {
	targets := m.table[m.current]
	triggers := make([]Trigger, 0, len(targets))
	for trigger := range targets {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
