package history

import (
	"fmt"
	"time"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

// ReplayError reports a history sequence that does not chain into a valid path
type ReplayError struct {
	Index   int
	EntryID string
	Reason  string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("history entry %d (%s): %s", e.Index, e.EntryID, e.Reason)
}

// Replay reconstructs the compound state reached by a chronological history sequence.
// Every entry must start where the previous one ended.
func Replay(entries []*entity.HistoryEntry) (domainwf.State, error) {
	state := domainwf.InitialState
	for i, e := range entries {
		p := e.Payload
		from := domainwf.State{Order: p.FromOrderStatus, Approval: p.FromApprovalStatus}
		to := domainwf.State{Order: p.ToOrderStatus, Approval: p.ToApprovalStatus}

		if from != (domainwf.State{}) && from != state {
			return state, &ReplayError{Index: i, EntryID: e.ID, Reason: fmt.Sprintf("starts at %s but order was at %s", from, state)}
		}
		if !to.IsValid() {
			return state, &ReplayError{Index: i, EntryID: e.ID, Reason: fmt.Sprintf("invalid target state %s", to)}
		}
		state = to
	}
	return state, nil
}

// Step is the human-readable position of an order in its workflow
type Step struct {
	CurrentStep         string     `json:"current_step"`
	NextStep            string     `json:"next_step,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	Complete            bool       `json:"complete"`
}

type stepInfo struct {
	current string
	next    string
	eta     time.Duration
}

var steps = map[domainwf.State]stepInfo{
	domainwf.StateDraft:            {"Drafting order", "Send order", 2 * time.Hour},
	domainwf.StateDraftRejected:    {"Revising rejected order", "Request approval", 2 * time.Hour},
	domainwf.StatePendingApproval:  {"Awaiting approval", "Send after approval", 24 * time.Hour},
	domainwf.StateApproved:         {"Approved", "Send order", time.Hour},
	domainwf.StateCreatedNoApprove: {"Ready to send", "Send order", time.Hour},
	domainwf.StateSent:             {"Sent to vendor", "Await delivery", 7 * 24 * time.Hour},
	domainwf.StateDelivered:        {current: "Delivered"},
}

// StepFor looks up the step view for state; now anchors the completion estimate
func StepFor(state domainwf.State, now time.Time) Step {
	info, ok := steps[state]
	if !ok {
		return Step{CurrentStep: "Unknown (" + state.String() + ")"}
	}
	if state.IsTerminal() {
		return Step{CurrentStep: info.current, Complete: true}
	}
	step := Step{CurrentStep: info.current, NextStep: info.next}
	if info.eta > 0 {
		eta := now.Add(info.eta)
		step.EstimatedCompletion = &eta
	}
	return step
}
