package review

import (
	"github.com/fyrsmithlabs/reviewd/internal/fault"
)

// Phase is one named step of the review workflow.
type Phase string

const (
	// PhaseIntake summarizes the change set and frames the review.
	PhaseIntake Phase = "intake"

	// PhasePlan breaks the review into scoped todo items.
	PhasePlan Phase = "plan"

	// PhaseAct gathers evidence, delegating todo items to sub-runs.
	PhaseAct Phase = "act"

	// PhaseSynthesize folds gathered evidence into findings.
	PhaseSynthesize Phase = "synthesize"

	// PhaseCheck verifies the findings and settles the decision.
	PhaseCheck Phase = "check"

	// PhaseDone is the natural-completion terminal.
	PhaseDone Phase = "done"

	// PhaseFailed is the structural-failure terminal.
	PhaseFailed Phase = "failed"

	// PhaseStopped is the budget-exhaustion terminal.
	PhaseStopped Phase = "stopped"
)

// AllPhases returns every member of the phase set.
func AllPhases() []Phase {
	return []Phase{
		PhaseIntake, PhasePlan, PhaseAct, PhaseSynthesize, PhaseCheck,
		PhaseDone, PhaseFailed, PhaseStopped,
	}
}

// transitions is the static legal-transition table. failed and stopped
// are orchestrator-imposed and deliberately absent: no phase may
// request them, and they have no outgoing edges.
var transitions = map[Phase][]Phase{
	PhaseIntake:     {PhasePlan},
	PhasePlan:       {PhaseAct},
	PhaseAct:        {PhaseSynthesize},
	PhaseSynthesize: {PhaseAct, PhasePlan, PhaseCheck},
	PhaseCheck:      {PhaseDone},
}

// Valid reports whether p is a member of the phase set.
func (p Phase) Valid() bool {
	for _, known := range AllPhases() {
		if p == known {
			return true
		}
	}
	return false
}

// Terminal reports whether p ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseStopped
}

// CanTransition checks the transition table for the (from, to) edge.
// A miss is a structural fault naming both phases.
func CanTransition(from, to Phase) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fault.NewStructural("review.transition",
		"illegal transition from %q to %q", from, to)
}

// AllowedNext returns the legal next phases from p, in table order.
func AllowedNext(p Phase) []Phase {
	return append([]Phase(nil), transitions[p]...)
}
