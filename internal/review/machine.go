package review

import (
	"fmt"

	"github.com/fyrsmithlabs/reviewd/internal/fault"
)

// stopReasonIterations is the stop reason recorded when the iteration
// bound forces a halt.
const stopReasonIterations = "iteration limit exceeded"

// machine owns the authoritative current phase and enforces the
// transition table. It is not safe for concurrent use; the run loop is
// strictly sequential.
type machine struct {
	state         *PhaseState
	maxIterations int
}

func newMachine(maxIterations int) *machine {
	return &machine{
		state: &PhaseState{
			Current: PhaseIntake,
			Outputs: make(map[Phase]*PhaseOutput),
		},
		maxIterations: maxIterations,
	}
}

// terminal reports whether the run loop must end.
func (m *machine) terminal() bool {
	return m.state.Current.Terminal()
}

// budgetExceeded reports whether another phase execution would cross
// the iteration bound.
func (m *machine) budgetExceeded() bool {
	return m.state.Iteration >= m.maxIterations
}

// begin marks the start of one phase execution, consuming one
// iteration. The counter only ever increases.
func (m *machine) begin() {
	m.state.Iteration++
}

// advance honors out's requested next phase if and only if the
// transition table allows it. On a table miss the current phase is
// left untouched and a structural fault naming both phases is
// returned; there is no default fallback. On success the output is
// appended and the machine moves.
func (m *machine) advance(out *PhaseOutput) error {
	if out == nil {
		return fault.NewStructural("review.advance", "phase produced no output")
	}
	if out.Phase != m.state.Current {
		return fault.NewStructural("review.advance",
			"output for phase %q while in phase %q", out.Phase, m.state.Current)
	}
	if err := CanTransition(m.state.Current, out.Requested); err != nil {
		return err
	}

	m.state.Outputs[out.Phase] = out
	m.state.History = append(m.state.History, out)
	m.state.Current = out.Requested
	return nil
}

// fail moves the machine to the failed terminal, recording why.
func (m *machine) fail(reason string) {
	if m.terminal() {
		return
	}
	m.state.Current = PhaseFailed
	m.state.StopReason = reason
}

// stop moves the machine to the stopped terminal, recording why.
// Stopped means the run exhausted a budget, not that it broke a rule.
func (m *machine) stop(reason string) {
	if m.terminal() {
		return
	}
	m.state.Current = PhaseStopped
	m.state.StopReason = reason
}

// failf is fail with formatting.
func (m *machine) failf(format string, args ...interface{}) {
	m.fail(fmt.Sprintf(format, args...))
}
