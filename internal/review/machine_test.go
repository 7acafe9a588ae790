package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/fault"
)

func TestMachine_AdvanceHonorsTable(t *testing.T) {
	m := newMachine(10)
	require.Equal(t, PhaseIntake, m.state.Current)

	m.begin()
	err := m.advance(&PhaseOutput{Phase: PhaseIntake, Requested: PhasePlan})
	require.NoError(t, err)

	assert.Equal(t, PhasePlan, m.state.Current)
	assert.Equal(t, 1, m.state.Iteration)
	assert.Len(t, m.state.History, 1)
	assert.NotNil(t, m.state.Outputs[PhaseIntake])
}

func TestMachine_TableMissLeavesPhaseUnchanged(t *testing.T) {
	m := newMachine(10)
	m.state.Current = PhaseAct

	err := m.advance(&PhaseOutput{Phase: PhaseAct, Requested: PhaseDone})
	require.Error(t, err)
	assert.True(t, fault.IsStructural(err))
	assert.Contains(t, err.Error(), "act")
	assert.Contains(t, err.Error(), "done")

	assert.Equal(t, PhaseAct, m.state.Current, "current phase must not change on a table miss")
	assert.Empty(t, m.state.History)
}

func TestMachine_AdvanceRejectsStalePhaseOutput(t *testing.T) {
	m := newMachine(10)
	err := m.advance(&PhaseOutput{Phase: PhasePlan, Requested: PhaseAct})
	require.Error(t, err)
	assert.True(t, fault.IsStructural(err))
	assert.Equal(t, PhaseIntake, m.state.Current)
}

func TestMachine_AdvanceRejectsNilOutput(t *testing.T) {
	m := newMachine(10)
	require.Error(t, m.advance(nil))
}

func TestMachine_IterationCounterIsMonotonic(t *testing.T) {
	m := newMachine(100)

	walk := []struct {
		phase, next Phase
	}{
		{PhaseIntake, PhasePlan},
		{PhasePlan, PhaseAct},
		{PhaseAct, PhaseSynthesize},
		{PhaseSynthesize, PhaseAct},
		{PhaseAct, PhaseSynthesize},
		{PhaseSynthesize, PhaseCheck},
		{PhaseCheck, PhaseDone},
	}

	prev := 0
	for _, step := range walk {
		m.begin()
		require.Greater(t, m.state.Iteration, prev)
		prev = m.state.Iteration
		require.NoError(t, m.advance(&PhaseOutput{Phase: step.phase, Requested: step.next}))
	}
	assert.Equal(t, len(walk), m.state.Iteration)
	assert.True(t, m.terminal())
}

func TestMachine_BudgetExceeded(t *testing.T) {
	m := newMachine(2)
	assert.False(t, m.budgetExceeded())
	m.begin()
	assert.False(t, m.budgetExceeded())
	m.begin()
	assert.True(t, m.budgetExceeded())
}

func TestMachine_StopAndFailAreTerminalAndSticky(t *testing.T) {
	m := newMachine(10)
	m.stop(stopReasonIterations)
	assert.Equal(t, PhaseStopped, m.state.Current)
	assert.Equal(t, stopReasonIterations, m.state.StopReason)
	assert.True(t, m.terminal())

	// A later fail must not overwrite the terminal state.
	m.fail("late failure")
	assert.Equal(t, PhaseStopped, m.state.Current)
	assert.Equal(t, stopReasonIterations, m.state.StopReason)
}

func TestMachine_FailRecordsReason(t *testing.T) {
	m := newMachine(10)
	m.state.Current = PhaseSynthesize
	m.failf("phase %s broke a contract", PhaseSynthesize)
	assert.Equal(t, PhaseFailed, m.state.Current)
	assert.Contains(t, m.state.StopReason, "synthesize")
}
