package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/fault"
)

func testContext(outputs map[Phase]*PhaseOutput) *RunContext {
	if outputs == nil {
		outputs = map[Phase]*PhaseOutput{}
	}
	return &RunContext{
		Input: &ReviewInput{
			Repository: "example/repo",
			BaseRef:    "main",
			HeadRef:    "feature",
			Diff:       "--- a/x.go\n+++ b/x.go\n",
		},
		State: &PhaseState{Outputs: outputs},
	}
}

func TestValidateContext_Intake(t *testing.T) {
	require.NoError(t, validateContext(testContext(nil), PhaseIntake, false))

	t.Run("no input", func(t *testing.T) {
		rc := &RunContext{State: &PhaseState{Outputs: map[Phase]*PhaseOutput{}}}
		err := validateContext(rc, PhaseIntake, false)
		require.Error(t, err)
		assert.True(t, fault.IsStructural(err))
		assert.Contains(t, err.Error(), "input")
	})

	t.Run("empty change set", func(t *testing.T) {
		rc := testContext(nil)
		rc.Input = &ReviewInput{Repository: "example/repo"}
		err := validateContext(rc, PhaseIntake, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input.diff")
	})
}

func TestValidateContext_EnumeratesEveryMiss(t *testing.T) {
	rc := &RunContext{State: &PhaseState{Outputs: map[Phase]*PhaseOutput{}}}
	err := validateContext(rc, PhaseIntake, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input,")
	assert.Contains(t, err.Error(), "input.diff")
}

func TestValidateContext_PlanNeedsIntakeSummary(t *testing.T) {
	err := validateContext(testContext(nil), PhasePlan, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake.summary")

	rc := testContext(map[Phase]*PhaseOutput{
		PhaseIntake: {Phase: PhaseIntake, Payload: &IntakePayload{Summary: "x"}},
	})
	require.NoError(t, validateContext(rc, PhasePlan, false))
}

func TestValidateContext_ActTodosOnlyWhenDelegating(t *testing.T) {
	rc := testContext(map[Phase]*PhaseOutput{
		PhasePlan: {Phase: PhasePlan, Payload: &PlanPayload{}},
	})

	// A leaf act phase only needs the plan itself.
	require.NoError(t, validateContext(rc, PhaseAct, false))

	// A delegating act phase needs at least one todo.
	err := validateContext(rc, PhaseAct, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan.todos")

	rc.State.Outputs[PhasePlan].Payload = &PlanPayload{Todos: []TodoItem{{ID: "t1"}}}
	require.NoError(t, validateContext(rc, PhaseAct, true))
}

func TestValidateContext_SynthesizeNeedsEvidence(t *testing.T) {
	rc := testContext(map[Phase]*PhaseOutput{
		PhaseAct: {Phase: PhaseAct, Payload: &ActPayload{}},
	})
	err := validateContext(rc, PhaseSynthesize, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "act.evidence")

	rc.State.Outputs[PhaseAct].Payload = &ActPayload{Evidence: []string{"x.go:4"}}
	require.NoError(t, validateContext(rc, PhaseSynthesize, false))

	rc.State.Outputs[PhaseAct].Payload = &ActPayload{Results: []SubagentResult{{TodoID: "t1"}}}
	require.NoError(t, validateContext(rc, PhaseSynthesize, false))
}

func TestValidateContext_CheckNeedsFindings(t *testing.T) {
	err := validateContext(testContext(nil), PhaseCheck, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesize.findings")

	rc := testContext(map[Phase]*PhaseOutput{
		PhaseSynthesize: {Phase: PhaseSynthesize, Payload: &SynthesizePayload{Complete: true}},
	})
	require.NoError(t, validateContext(rc, PhaseCheck, false))
}
