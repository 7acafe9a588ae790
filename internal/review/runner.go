package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/fault"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/reasoning"
	"github.com/fyrsmithlabs/reviewd/internal/session"
)

const instrumentationName = "reviewd.review"

// SessionPool leases execution-resource handles. Release must be safe
// to call more than once per handle; *session.Pool satisfies this.
type SessionPool interface {
	Acquire(ctx context.Context, kind session.Kind) (*session.Handle, error)
	Release(h *session.Handle)
}

// RunObserver receives progress for top-level runs only; sub-runs
// spawned for delegated todo items are not reported. Observers must
// not block; the run does not wait for them.
type RunObserver interface {
	PhaseChanged(ctx context.Context, runID string, from, to Phase, iteration int)
	RunCompleted(ctx context.Context, runID string, report *FinalReport)
}

// Runner is the review orchestrator. One Runner serves many runs; each
// run owns its own state machine, trace recorder, and sessions.
type Runner struct {
	cfg       config.ReviewConfig
	completer Completer
	facility  Facility
	pool      SessionPool
	observer  RunObserver

	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics

	mu        sync.RWMutex
	closed    bool
	lastTrace []reasoning.Frame
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithFacility sets the orchestrated-agent execution path. Runs probe
// it at start and fall back to the direct path when it is unavailable.
func WithFacility(f Facility) Option {
	return func(r *Runner) { r.facility = f }
}

// WithObserver sets the run progress observer.
func WithObserver(o RunObserver) Option {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the runner logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates the orchestrator. The direct completer and the
// session pool are required; everything else is optional.
func NewRunner(cfg *config.ReviewConfig, completer Completer, pool SessionPool, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("review config is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if pool == nil {
		return nil, errors.New("session pool is required")
	}

	r := &Runner{
		cfg:       *cfg,
		completer: completer,
		pool:      pool,
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("review")

	return r, nil
}

// Run drives one review from intake to a terminal phase and returns
// the final report.
//
// The report is non-nil for every run outcome, failed and stopped
// included; the error return is reserved for invocation misuse.
func (r *Runner) Run(ctx context.Context, input *ReviewInput) (*FinalReport, error) {
	if input == nil {
		return nil, errors.New("review input is required")
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, errors.New("runner is closed")
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	ctx, span := r.tracer.Start(ctx, "review.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.repository", input.Repository),
		attribute.Int("run.files", len(input.Files)),
	)

	rec := reasoning.NewRecorder(r.logger)
	start := time.Now()

	report := r.runLoop(ctx, runID, &RunContext{Input: input}, 0, rec)

	r.metrics.RunsTotal.WithLabelValues(string(report.TerminalPhase)).Inc()
	r.metrics.RunDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("run.terminal", string(report.TerminalPhase)),
		attribute.String("run.decision", string(report.Decision)),
		attribute.Int("run.iterations", report.Iterations),
	)

	r.mu.Lock()
	r.lastTrace = rec.Frames()
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.RunCompleted(ctx, runID, report)
	}

	r.logger.Info(ctx, "review run finished",
		zap.String("terminal", string(report.TerminalPhase)),
		zap.String("decision", string(report.Decision)),
		zap.Int("iterations", report.Iterations),
		zap.Int("findings", len(report.Findings)))

	return report, nil
}

// Trace returns the reasoning frames of the most recent run. The trace
// is observability-only and never part of a FinalReport.
func (r *Runner) Trace() []reasoning.Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]reasoning.Frame(nil), r.lastTrace...)
}

// Close stops the runner from accepting new runs.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// runLoop is the phase machine's driver: validate context, execute the
// phase under a leased session, record a reasoning frame, and advance
// via the transition table until a terminal phase or an exhausted
// iteration budget.
func (r *Runner) runLoop(ctx context.Context, runID string, rc *RunContext, depth int, rec *reasoning.Recorder) *FinalReport {
	start := time.Now()
	m := newMachine(r.cfg.MaxIterations)
	rc.State = m.state

	exec := &executor{
		completer:   r.completer,
		facility:    r.facility,
		useFacility: choosePath(ctx, r.facility, r.logger),
		timeout:     r.cfg.PhaseTimeout.Duration(),
		logger:      r.logger,
		tracer:      r.tracer,
	}
	retryCfg := fault.RetryConfig{
		MaxRetries:     r.cfg.MaxRetries,
		InitialBackoff: r.cfg.InitialBackoff.Duration(),
		MaxBackoff:     r.cfg.MaxBackoff.Duration(),
	}

	for !m.terminal() {
		if err := ctx.Err(); err != nil {
			m.failf("run canceled: %v", err)
			recordHaltFrame(ctx, rec, m)
			break
		}
		if m.budgetExceeded() {
			m.stop(stopReasonIterations)
			recordHaltFrame(ctx, rec, m)
			break
		}

		phase := m.state.Current
		phaseCtx := logging.WithPhase(ctx, string(phase))

		delegate := phase == PhaseAct && rc.Todo == nil && depth < r.cfg.MaxSubRunDepth

		if err := validateContext(rc, phase, delegate); err != nil {
			m.fail(err.Error())
			rec.Record(phaseCtx, reasoning.Frame{
				Phase:    string(phase),
				Decision: err.Error(),
				Steps:    []reasoning.Step{{Kind: reasoning.StepGate, Rationale: err.Error()}},
			})
			break
		}

		m.begin()

		out, err := r.executePhase(phaseCtx, exec, rc, phase, delegate, retryCfg)
		if err != nil {
			if fault.IsBudget(err) {
				m.stop(err.Error())
			} else {
				m.fail(err.Error())
			}
			recordHaltFrame(phaseCtx, rec, m)
			break
		}

		r.metrics.PhasesTotal.WithLabelValues(string(phase)).Inc()
		r.metrics.PhaseAttempts.WithLabelValues(string(phase)).Add(float64(out.Attempts))

		if err := m.advance(out); err != nil {
			m.fail(err.Error())
			recordHaltFrame(phaseCtx, rec, m)
			break
		}

		rec.Record(phaseCtx, frameFor(out, delegate))

		// Only the top-level run is observable; sub-run machines are an
		// implementation detail of the act phase.
		if depth == 0 && r.observer != nil {
			r.observer.PhaseChanged(phaseCtx, runID, phase, m.state.Current, m.state.Iteration)
		}
	}

	return buildReport(runID, m.state, start)
}

// executePhase brackets one phase execution with a leased session and
// the transient-retry budget; a session-acquire timeout is retried on
// the same budget as an execution failure. Delegating act phases go
// through the dispatcher instead of the execution paths.
func (r *Runner) executePhase(ctx context.Context, exec *executor, rc *RunContext, phase Phase, delegate bool, retryCfg fault.RetryConfig) (*PhaseOutput, error) {
	if delegate {
		handle, err := r.pool.Acquire(ctx, session.KindRun)
		if err != nil {
			return nil, err
		}
		defer r.pool.Release(handle)
		return r.delegateAct(ctx, rc)
	}

	// Session acquisition sits inside the retry scope so that an
	// acquire timeout consumes a retry instead of failing the phase
	// outright.
	var out *PhaseOutput
	attempts, err := fault.Retry(ctx, "review.phase."+string(phase), retryCfg, func(ctx context.Context) error {
		handle, acqErr := r.pool.Acquire(ctx, session.KindRun)
		if acqErr != nil {
			return acqErr
		}
		defer r.pool.Release(handle)

		o, execErr := exec.execute(ctx, rc, phase)
		if execErr != nil {
			return execErr
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.Attempts = len(attempts)
	return out, nil
}

// delegateAct fans the plan's todo items out to sub-runs and folds the
// complete result set into the act output. Results of earlier act
// cycles are kept; a re-entered act phase only dispatches items that
// are still pending.
func (r *Runner) delegateAct(ctx context.Context, rc *RunContext) (*PhaseOutput, error) {
	plan := rc.PlanPayload()

	todos := make([]*TodoItem, 0, len(plan.Todos))
	for i := range plan.Todos {
		todos = append(todos, &plan.Todos[i])
	}

	d := &dispatcher{
		maxParallel: r.cfg.MaxConcurrentTodos,
		run:         r.runTodo(rc.Input),
		logger:      r.logger,
		tracer:      r.tracer,
		metrics:     r.metrics,
	}
	dispatched := d.Dispatch(ctx, todos)

	// Merge over any previous cycle's results, newest per todo id.
	byID := make(map[string]SubagentResult, len(todos))
	if prev := rc.ActPayload(); prev != nil {
		for _, res := range prev.Results {
			byID[res.TodoID] = res
		}
	}
	for _, res := range dispatched {
		byID[res.TodoID] = res
	}

	results := make([]SubagentResult, 0, len(todos))
	succeeded := 0
	for _, t := range todos {
		res, ok := byID[t.ID]
		if !ok {
			continue
		}
		results = append(results, res)
		if res.Status == TodoDone {
			succeeded++
		}
	}

	if len(results) > 0 && succeeded == 0 {
		var failed, blocked, deferred int
		for _, res := range results {
			switch res.Status {
			case TodoFailed:
				failed++
			case TodoBlocked:
				blocked++
			case TodoDeferred:
				deferred++
			}
		}
		return nil, fault.NewStructural("review.dispatch",
			"no delegated todo items succeeded: %d failed, %d blocked, %d deferred",
			failed, blocked, deferred)
	}

	return &PhaseOutput{
		Phase:     PhaseAct,
		Requested: PhaseSynthesize,
		Payload: &ActPayload{
			Results: results,
			Summary: fmt.Sprintf("%d/%d todo items completed", succeeded, len(results)),
		},
		Decision: fmt.Sprintf("delegated %d todo items, %d completed", len(results), succeeded),
		Origin:   "dispatcher",
		Attempts: 1,
	}, nil
}

// runTodo returns the dispatcher's sub-run function: one nested phase
// machine per todo item, under its own session and iteration budget.
// A sub-run's failure is contained here as a failed result; it never
// propagates as a run-level error.
func (r *Runner) runTodo(input *ReviewInput) runTodoFunc {
	return func(ctx context.Context, todo *TodoItem) *SubagentResult {
		handle, err := r.pool.Acquire(ctx, session.KindSubagent)
		if err != nil {
			return &SubagentResult{
				TodoID: todo.ID,
				Status: TodoFailed,
				Error:  err.Error(),
			}
		}
		defer r.pool.Release(handle)

		subID := uuid.NewString()
		subCtx := logging.WithRunID(ctx, subID)

		// Sub-runs share the run's recorder budget but keep their own
		// trace; only the folded result crosses back.
		rec := reasoning.NewRecorder(r.logger)
		report := r.runLoop(subCtx, subID, &RunContext{Input: input, Todo: todo}, 1, rec)

		return resultFromReport(todo, report)
	}
}

// resultFromReport folds one sub-run's terminal report into the
// delegating phase's result entry.
func resultFromReport(todo *TodoItem, report *FinalReport) *SubagentResult {
	res := &SubagentResult{
		TodoID:     todo.ID,
		Summary:    report.Summary,
		Confidence: report.Confidence,
		Evidence:   append([]string(nil), report.Evidence...),
	}
	for _, f := range report.Findings {
		res.Evidence = append(res.Evidence, f.Evidence...)
	}

	if report.TerminalPhase == PhaseDone {
		res.Status = TodoDone
		return res
	}

	res.Status = TodoFailed
	res.Error = report.StopReason
	if res.Error == "" {
		res.Error = fmt.Sprintf("sub-run ended in phase %s", report.TerminalPhase)
	}
	return res
}

// frameFor builds the reasoning frame for one completed phase.
func frameFor(out *PhaseOutput, delegated bool) reasoning.Frame {
	var steps []reasoning.Step

	if delegated {
		if p, ok := out.Payload.(*ActPayload); ok {
			refs := make([]string, 0, len(p.Results))
			for _, res := range p.Results {
				refs = append(refs, fmt.Sprintf("todo:%s=%s", res.TodoID, res.Status))
			}
			steps = append(steps, reasoning.Step{
				Kind:         reasoning.StepDelegate,
				Rationale:    p.Summary,
				EvidenceRefs: refs,
			})
		}
	}

	steps = append(steps, reasoning.Step{
		Kind:      reasoning.StepTransition,
		Rationale: out.Decision,
		NextPhase: string(out.Requested),
	})

	return reasoning.Frame{
		Phase:    string(out.Phase),
		Goals:    out.Goals,
		Checks:   out.Checks,
		Risks:    out.Risks,
		Decision: out.Decision,
		Steps:    steps,
	}
}

// recordHaltFrame traces why the machine left the loop.
func recordHaltFrame(ctx context.Context, rec *reasoning.Recorder, m *machine) {
	rec.Record(ctx, reasoning.Frame{
		Phase:    string(m.state.Current),
		Decision: m.state.StopReason,
		Steps: []reasoning.Step{{
			Kind:      reasoning.StepStop,
			Rationale: m.state.StopReason,
		}},
	})
}
