package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewd/internal/backend"
	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/fault"
	"github.com/fyrsmithlabs/reviewd/internal/session"
)

// completerFunc adapts a function to the Completer interface.
type completerFunc func(ctx context.Context, prompt string) (*backend.RawResponse, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (*backend.RawResponse, error) {
	return f(ctx, prompt)
}

// fakeFacility scripts the orchestrated path.
type fakeFacility struct {
	available bool
	execute   func(ctx context.Context, req *backend.ExecuteRequest) (*backend.RawResponse, error)
}

func (f *fakeFacility) Available(ctx context.Context) bool { return f.available }

func (f *fakeFacility) Execute(ctx context.Context, req *backend.ExecuteRequest) (*backend.RawResponse, error) {
	return f.execute(ctx, req)
}

// promptPhase recovers the target phase from the prompt's instruction
// header.
func promptPhase(prompt string) Phase {
	for _, p := range []Phase{PhaseIntake, PhasePlan, PhaseAct, PhaseSynthesize, PhaseCheck} {
		if strings.Contains(prompt, fmt.Sprintf("the %s phase", p)) {
			return p
		}
	}
	return ""
}

func isSubRunPrompt(prompt string) bool {
	return strings.Contains(prompt, "## Assigned todo item")
}

func respond(next, payload string) *backend.RawResponse {
	return &backend.RawResponse{
		Content: fmt.Sprintf(`{"next_phase":%q,"goals":["g"],"checks":["c"],"decision":"ok","payload":%s}`, next, payload),
		Origin:  backend.OriginDirect,
	}
}

// scriptedResponse serves the canonical happy-path envelope for any
// phase, for both top-level and sub-run prompts.
func scriptedResponse(prompt string, todoCount int) (*backend.RawResponse, error) {
	switch promptPhase(prompt) {
	case PhaseIntake:
		return respond("plan", `{"summary":"adds bounded retry to the fetcher"}`), nil
	case PhasePlan:
		todos := make([]string, todoCount)
		for i := range todos {
			todos[i] = fmt.Sprintf(`{"id":"t%d","description":"verify item %d","priority":%d}`, i+1, i+1, i+1)
		}
		return respond("act", fmt.Sprintf(`{"todos":[%s]}`, strings.Join(todos, ","))), nil
	case PhaseAct:
		return respond("synthesize", `{"evidence":["fetch.go:42 retry loop is bounded"],"summary":"verified"}`), nil
	case PhaseSynthesize:
		return respond("check", `{"findings":[{"title":"retry bound respected","severity":"info","confidence":"high","evidence":["fetch.go:42"]}],"complete":true}`), nil
	case PhaseCheck:
		return respond("done", `{"decision":"approve","rationale":"no blocking issues","confidence":"high"}`), nil
	}
	return nil, fmt.Errorf("unexpected prompt: %.80s", prompt)
}

func testReviewConfig() *config.ReviewConfig {
	return &config.ReviewConfig{
		MaxIterations:      16,
		MaxRetries:         3,
		InitialBackoff:     config.Duration(time.Millisecond),
		MaxBackoff:         config.Duration(5 * time.Millisecond),
		MaxConcurrentTodos: 2,
		MaxSubRunDepth:     1,
		PhaseTimeout:       config.Duration(10 * time.Second),
	}
}

func newTestPool(t *testing.T) *session.Pool {
	t.Helper()
	pool, err := session.NewPool(&config.SessionsConfig{
		MaxActive:      8,
		AcquireTimeout: config.Duration(time.Second),
	}, nil, nil)
	require.NoError(t, err)
	return pool
}

func testInput() *ReviewInput {
	return &ReviewInput{
		Repository: "example/service",
		BaseRef:    "main",
		HeadRef:    "feature/retry",
		Files:      []ChangedFile{{Path: "fetch.go", Status: "modified", Additions: 12, Deletions: 3}},
		Diff:       "--- a/fetch.go\n+++ b/fetch.go\n@@ -1 +1 @@\n-old\n+new\n",
	}
}

func assertBalancedSessions(t *testing.T, pool *session.Pool) {
	t.Helper()
	stats := pool.Stats()
	assert.Equal(t, stats.Acquired, stats.Released, "every acquired session must be released")
	assert.Zero(t, stats.Active, "no session may stay leased after the run")
}

func TestRunner_HappyPath(t *testing.T) {
	// intake -> plan -> act (2 delegated sub-runs) -> synthesize ->
	// check -> done, no failures anywhere.
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return scriptedResponse(prompt, 2)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, PhaseDone, report.TerminalPhase)
	assert.Equal(t, DecisionApprove, report.Decision)
	assert.Empty(t, report.StopReason, "a naturally completed run carries no stop reason")
	assert.Equal(t, 5, report.Iterations)
	assert.NotEmpty(t, report.Findings)
	assert.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, TodoDone, res.Status)
		assert.NotEmpty(t, res.Evidence)
	}

	assertBalancedSessions(t, pool)
}

func TestRunner_IllegalTransitionFailsRun(t *testing.T) {
	// act requests done directly; the table only allows act ->
	// synthesize, so the run must end failed naming both phases.
	cfg := testReviewConfig()
	cfg.MaxSubRunDepth = 0 // leaf act at the top level

	var backendCalls atomic.Int32
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		backendCalls.Add(1)
		if promptPhase(prompt) == PhaseAct {
			return respond("done", `{"evidence":["x"],"summary":"s"}`), nil
		}
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(cfg, completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, report.TerminalPhase)
	assert.Contains(t, report.StopReason, `"act"`)
	assert.Contains(t, report.StopReason, `"done"`)
	assert.Equal(t, DecisionNeedsEvidence, report.Decision)
	assertBalancedSessions(t, pool)
}

func TestRunner_MissingContextFailsBeforeBackendCall(t *testing.T) {
	var backendCalls atomic.Int32
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		backendCalls.Add(1)
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	// No diff and no files: intake's declared requirements are unmet.
	report, err := r.Run(context.Background(), &ReviewInput{Repository: "example/empty"})
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, report.TerminalPhase)
	assert.Contains(t, report.StopReason, "input.diff")
	assert.Zero(t, backendCalls.Load(), "validation failures must precede any backend call")
	assertBalancedSessions(t, pool)
}

func TestRunner_TransientFaultsRetriedWithinBudget(t *testing.T) {
	// Two transient faults on intake, then success on the third
	// attempt: the run proceeds and exactly three attempts are made.
	var intakeCalls atomic.Int32
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		if promptPhase(prompt) == PhaseIntake && !isSubRunPrompt(prompt) {
			if intakeCalls.Add(1) <= 2 {
				return nil, fault.NewTransient("backend.complete", errors.New("connection reset"))
			}
		}
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, report.TerminalPhase)
	assert.Equal(t, int32(3), intakeCalls.Load())
	assertBalancedSessions(t, pool)
}

func TestRunner_TransientExhaustionFailsWithCause(t *testing.T) {
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return nil, fault.NewTransient("backend.complete", errors.New("backend unavailable"))
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, report.TerminalPhase)
	assert.Contains(t, report.StopReason, "retry budget exhausted")
	assert.Contains(t, report.StopReason, "backend unavailable", "the original cause must be preserved")
	assertBalancedSessions(t, pool)
}

// flakyPool fails the first n Acquire calls with a transient fault,
// then delegates to a real pool.
type flakyPool struct {
	inner    *session.Pool
	failures atomic.Int32
}

func (p *flakyPool) Acquire(ctx context.Context, kind session.Kind) (*session.Handle, error) {
	if p.failures.Add(-1) >= 0 {
		return nil, fault.NewTransient("session.acquire", errors.New("no session available within 1ms"))
	}
	return p.inner.Acquire(ctx, kind)
}

func (p *flakyPool) Release(h *session.Handle) { p.inner.Release(h) }

func TestRunner_AcquireTimeoutConsumesRetries(t *testing.T) {
	// Two transient acquire failures on the first phase, then a free
	// slot: the phase retries instead of failing the run.
	inner := newTestPool(t)
	pool := &flakyPool{inner: inner}
	pool.failures.Store(2)

	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, report.TerminalPhase)
	assertBalancedSessions(t, inner)
}

func TestRunner_StructuralFaultIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		calls.Add(1)
		return &backend.RawResponse{Content: "not json at all"}, nil
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, report.TerminalPhase)
	assert.Equal(t, int32(1), calls.Load(), "a contract violation must fail immediately")
	assertBalancedSessions(t, pool)
}

func TestRunner_IterationBoundForcesStop(t *testing.T) {
	cfg := testReviewConfig()
	cfg.MaxIterations = 1

	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(cfg, completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseStopped, report.TerminalPhase)
	assert.Equal(t, stopReasonIterations, report.StopReason)
	assert.Equal(t, 1, report.Iterations, "no more than max_iterations phase executions")
	assert.NotEmpty(t, report.Summary, "the report still carries what was gathered")
	assert.Equal(t, DecisionNeedsEvidence, report.Decision)
	assertBalancedSessions(t, pool)
}

func TestRunner_AllSubTasksFailingFailsTheRun(t *testing.T) {
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		if isSubRunPrompt(prompt) {
			return &backend.RawResponse{Content: "malformed"}, nil
		}
		return scriptedResponse(prompt, 2)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, report.TerminalPhase)
	assert.Contains(t, report.StopReason, "no delegated todo items succeeded")
	assert.Contains(t, report.StopReason, "2 failed")
	assertBalancedSessions(t, pool)
}

func TestRunner_DependencyCycleStopsWithDeferredCount(t *testing.T) {
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		if promptPhase(prompt) == PhasePlan {
			return respond("act", `{"todos":[
				{"id":"t1","description":"first","priority":1,"depends_on":["t2"]},
				{"id":"t2","description":"second","priority":2,"depends_on":["t1"]}
			]}`), nil
		}
		return scriptedResponse(prompt, 2)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseFailed, report.TerminalPhase)
	assert.Contains(t, report.StopReason, "2 deferred",
		"the stop reason must say the items were deferred, not failed")
	assert.Contains(t, report.StopReason, "0 failed")
	assertBalancedSessions(t, pool)
}

func TestRunner_OneSubTaskFailureIsContained(t *testing.T) {
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		if isSubRunPrompt(prompt) && strings.Contains(prompt, "id: t2") {
			return &backend.RawResponse{Content: "malformed"}, nil
		}
		return scriptedResponse(prompt, 3)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, report.TerminalPhase)
	require.Len(t, report.Results, 3)

	byID := map[string]SubagentResult{}
	for _, res := range report.Results {
		byID[res.TodoID] = res
	}
	assert.Equal(t, TodoDone, byID["t1"].Status)
	assert.Equal(t, TodoFailed, byID["t2"].Status)
	assert.NotEmpty(t, byID["t2"].Error)
	assert.Equal(t, TodoDone, byID["t3"].Status)
	assertBalancedSessions(t, pool)
}

func TestRunner_FacilityPathPreferred(t *testing.T) {
	var completerCalls, facilityCalls atomic.Int32

	facility := &fakeFacility{
		available: true,
		execute: func(ctx context.Context, req *backend.ExecuteRequest) (*backend.RawResponse, error) {
			facilityCalls.Add(1)
			assert.NotEmpty(t, req.ToolPermissions)
			resp, err := scriptedResponse(req.Prompt, 1)
			if resp != nil {
				resp.Origin = backend.OriginFacility
			}
			return resp, err
		},
	}
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		completerCalls.Add(1)
		return scriptedResponse(prompt, 1)
	})

	pool := newTestPool(t)
	r, err := NewRunner(testReviewConfig(), completer, pool, WithFacility(facility))
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, report.TerminalPhase)
	assert.Zero(t, completerCalls.Load(), "the facility serves every phase when available")
	assert.NotZero(t, facilityCalls.Load())
	assertBalancedSessions(t, pool)
}

func TestRunner_FacilityUnavailableFallsBackToDirect(t *testing.T) {
	var completerCalls atomic.Int32

	facility := &fakeFacility{
		available: false,
		execute: func(ctx context.Context, req *backend.ExecuteRequest) (*backend.RawResponse, error) {
			t.Fatal("an unavailable facility must not be called")
			return nil, nil
		},
	}
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		completerCalls.Add(1)
		return scriptedResponse(prompt, 1)
	})

	pool := newTestPool(t)
	r, err := NewRunner(testReviewConfig(), completer, pool, WithFacility(facility))
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, report.TerminalPhase)
	assert.NotZero(t, completerCalls.Load())
	assertBalancedSessions(t, pool)
}

func TestRunner_TraceRecordsEveryCompletedPhase(t *testing.T) {
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), testInput())
	require.NoError(t, err)

	frames := r.Trace()
	require.Len(t, frames, 5)
	var phases []string
	for _, f := range frames {
		phases = append(phases, f.Phase)
		assert.False(t, f.Timestamp.IsZero())
	}
	assert.Equal(t, []string{"intake", "plan", "act", "synthesize", "check"}, phases)
}

func TestRunner_ObserverSeesTransitionsAndReport(t *testing.T) {
	obs := &recordingObserver{}
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool, WithObserver(obs))
	require.NoError(t, err)

	report, err := r.Run(context.Background(), testInput())
	require.NoError(t, err)

	// One notification per top-level transition; the sub-run spawned
	// for the todo item stays invisible to the observer.
	assert.Equal(t, 5, int(obs.transitions.Load()))
	for _, id := range obs.runIDs() {
		assert.Equal(t, report.RunID, id)
	}
	require.NotNil(t, obs.report)
	assert.Equal(t, report.RunID, obs.report.RunID)
}

type recordingObserver struct {
	transitions atomic.Int32
	report      *FinalReport

	mu  sync.Mutex
	ids []string
}

func (o *recordingObserver) PhaseChanged(ctx context.Context, runID string, from, to Phase, iteration int) {
	o.transitions.Add(1)
	o.mu.Lock()
	o.ids = append(o.ids, runID)
	o.mu.Unlock()
}

func (o *recordingObserver) RunCompleted(ctx context.Context, runID string, report *FinalReport) {
	o.report = report
}

func (o *recordingObserver) runIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ids...)
}

func TestNewRunner_Validation(t *testing.T) {
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return nil, nil
	})

	_, err := NewRunner(nil, completer, pool)
	require.Error(t, err)

	_, err = NewRunner(testReviewConfig(), nil, pool)
	require.Error(t, err)

	_, err = NewRunner(testReviewConfig(), completer, nil)
	require.Error(t, err)
}

func TestRunner_RunMisuse(t *testing.T) {
	pool := newTestPool(t)
	completer := completerFunc(func(ctx context.Context, prompt string) (*backend.RawResponse, error) {
		return scriptedResponse(prompt, 1)
	})

	r, err := NewRunner(testReviewConfig(), completer, pool)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), nil)
	require.Error(t, err)

	require.NoError(t, r.Close())
	_, err = r.Run(context.Background(), testInput())
	require.Error(t, err)
}
