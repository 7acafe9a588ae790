package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/fault"
)

func TestTodoItem_Transition(t *testing.T) {
	todo := &TodoItem{ID: "t1", Status: TodoPending}

	require.NoError(t, todo.Transition(TodoInProgress))
	require.NoError(t, todo.Transition(TodoDone))
	assert.Equal(t, TodoDone, todo.Status)
}

func TestTodoItem_Transition_TerminalIsFinal(t *testing.T) {
	for _, terminal := range []TodoStatus{TodoDone, TodoFailed, TodoBlocked, TodoDeferred} {
		todo := &TodoItem{ID: "t1", Status: terminal}
		for _, next := range []TodoStatus{TodoPending, TodoInProgress, TodoDone, TodoFailed} {
			err := todo.Transition(next)
			require.Error(t, err, "%s -> %s", terminal, next)
			assert.True(t, fault.IsStructural(err))
			assert.Equal(t, terminal, todo.Status, "status must not change on a rejected transition")
		}
	}
}

func TestTodoItem_Transition_NoSkippingInProgress(t *testing.T) {
	todo := &TodoItem{ID: "t1", Status: TodoPending}
	err := todo.Transition(TodoDone)
	require.Error(t, err)
	assert.Equal(t, TodoPending, todo.Status)
}

func TestTodoItem_Transition_PendingCanBlockOrDefer(t *testing.T) {
	blocked := &TodoItem{ID: "t1", Status: TodoPending}
	require.NoError(t, blocked.Transition(TodoBlocked))

	deferred := &TodoItem{ID: "t2", Status: TodoPending}
	require.NoError(t, deferred.Transition(TodoDeferred))
}

func TestTodoStatus_Terminal(t *testing.T) {
	assert.False(t, TodoPending.Terminal())
	assert.False(t, TodoInProgress.Terminal())
	assert.True(t, TodoDone.Terminal())
	assert.True(t, TodoFailed.Terminal())
	assert.True(t, TodoBlocked.Terminal())
	assert.True(t, TodoDeferred.Terminal())
}

func TestRunContext_TypedAccessors(t *testing.T) {
	state := &PhaseState{Outputs: map[Phase]*PhaseOutput{
		PhaseIntake: {Phase: PhaseIntake, Payload: &IntakePayload{Summary: "adds retry"}},
		PhasePlan:   {Phase: PhasePlan, Payload: &PlanPayload{Todos: []TodoItem{{ID: "t1"}}}},
	}}
	rc := &RunContext{State: state}

	require.NotNil(t, rc.IntakePayload())
	assert.Equal(t, "adds retry", rc.IntakePayload().Summary)
	require.NotNil(t, rc.PlanPayload())
	assert.Nil(t, rc.ActPayload())
	assert.Nil(t, rc.SynthesizePayload())
	assert.Nil(t, rc.CheckPayload())
}
