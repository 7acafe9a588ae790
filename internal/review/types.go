package review

import (
	"time"

	"github.com/fyrsmithlabs/reviewd/internal/fault"
	"github.com/fyrsmithlabs/reviewd/internal/reasoning"
)

// ChangedFile is one file touched by the change under review.
type ChangedFile struct {
	Path      string `json:"path"`
	Status    string `json:"status"` // added, modified, deleted, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// ReviewInput is the immutable description of a change set.
// Created once per run and never mutated by the orchestrator.
type ReviewInput struct {
	Repository string        `json:"repository"`
	BaseRef    string        `json:"base_ref"`
	HeadRef    string        `json:"head_ref"`
	Files      []ChangedFile `json:"files"`
	Diff       string        `json:"diff"`
}

// TodoStatus tracks one delegated work item through its lifecycle.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
	TodoFailed     TodoStatus = "failed"
	TodoBlocked    TodoStatus = "blocked"
	TodoDeferred   TodoStatus = "deferred"
)

// Terminal reports whether the status ends the item's lifecycle.
func (s TodoStatus) Terminal() bool {
	switch s {
	case TodoDone, TodoFailed, TodoBlocked, TodoDeferred:
		return true
	}
	return false
}

// TodoItem is one unit of delegated review work, produced during the
// plan phase. Items are never deleted; they only move forward through
// their status lifecycle.
type TodoItem struct {
	ID          string            `json:"id"`
	Description string            `json:"description"`
	Priority    int               `json:"priority"`
	Status      TodoStatus        `json:"status"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// legalTodoTransitions maps each non-terminal status to its allowed
// successors. Terminal statuses have no successors: reverting one is a
// structural fault.
var legalTodoTransitions = map[TodoStatus][]TodoStatus{
	TodoPending:    {TodoInProgress, TodoBlocked, TodoDeferred},
	TodoInProgress: {TodoDone, TodoFailed, TodoBlocked},
}

// Transition moves the item to next, enforcing monotonic status flow.
func (t *TodoItem) Transition(next TodoStatus) error {
	for _, allowed := range legalTodoTransitions[t.Status] {
		if allowed == next {
			t.Status = next
			return nil
		}
	}
	return fault.NewStructural("review.todo",
		"todo %s: illegal status transition from %q to %q", t.ID, t.Status, next)
}

// SubagentResult is the terminal outcome of one delegated todo item.
// Exactly one exists per dispatched item; dispatch failures still
// produce one carrying the error.
type SubagentResult struct {
	TodoID     string               `json:"todo_id"`
	Status     TodoStatus           `json:"status"`
	Summary    string               `json:"summary,omitempty"`
	Evidence   []string             `json:"evidence,omitempty"`
	Confidence reasoning.Confidence `json:"confidence,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Severity grades a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Finding is one evidence-backed review observation.
type Finding struct {
	ID         string               `json:"id,omitempty"`
	Title      string               `json:"title"`
	Detail     string               `json:"detail,omitempty"`
	Severity   Severity             `json:"severity"`
	Confidence reasoning.Confidence `json:"confidence,omitempty"`
	Evidence   []string             `json:"evidence,omitempty"`
}

// Decision is the review verdict.
type Decision string

const (
	DecisionApprove       Decision = "approve"
	DecisionBlock         Decision = "block"
	DecisionNeedsEvidence Decision = "needs-more-evidence"
)

// PhaseOutput is the validated result of one phase execution. The
// Requested phase is advisory; the state machine decides whether to
// honor it. Immutable once produced.
type PhaseOutput struct {
	Phase     Phase `json:"phase"`
	Requested Phase `json:"requested"`

	// Payload holds the phase's typed contract payload: one of
	// *IntakePayload, *PlanPayload, *ActPayload, *SynthesizePayload,
	// *CheckPayload.
	Payload any `json:"payload"`

	Goals    []string `json:"goals,omitempty"`
	Checks   []string `json:"checks,omitempty"`
	Risks    []string `json:"risks,omitempty"`
	Decision string   `json:"decision,omitempty"`

	// Origin names the execution path that served the phase.
	Origin string `json:"origin,omitempty"`

	// Attempts counts invocations of the execution path, retries
	// included.
	Attempts int `json:"attempts"`
}

// PhaseState is the orchestrator-owned mutable run state. It is only
// mutated by the state machine under its transition guard and is
// discarded at run end.
type PhaseState struct {
	Current    Phase
	Iteration  int
	StopReason string

	// Outputs holds the latest output per phase; History holds every
	// output in completion order.
	Outputs map[Phase]*PhaseOutput
	History []*PhaseOutput
}

// RunContext is the typed aggregate of everything available to a
// phase: the immutable input, prior phase outputs, and for a sub-run
// the one todo item it is scoped to.
type RunContext struct {
	Input *ReviewInput
	State *PhaseState

	// Todo is set only inside a delegated sub-run.
	Todo *TodoItem
}

// Output returns the latest output of phase p, or nil.
func (rc *RunContext) Output(p Phase) *PhaseOutput {
	if rc.State == nil {
		return nil
	}
	return rc.State.Outputs[p]
}

// IntakePayload is the intake sub-run view of the run context, or nil.
func (rc *RunContext) IntakePayload() *IntakePayload {
	if out := rc.Output(PhaseIntake); out != nil {
		if p, ok := out.Payload.(*IntakePayload); ok {
			return p
		}
	}
	return nil
}

// PlanPayload returns the latest plan payload, or nil.
func (rc *RunContext) PlanPayload() *PlanPayload {
	if out := rc.Output(PhasePlan); out != nil {
		if p, ok := out.Payload.(*PlanPayload); ok {
			return p
		}
	}
	return nil
}

// ActPayload returns the latest act payload, or nil.
func (rc *RunContext) ActPayload() *ActPayload {
	if out := rc.Output(PhaseAct); out != nil {
		if p, ok := out.Payload.(*ActPayload); ok {
			return p
		}
	}
	return nil
}

// SynthesizePayload returns the latest synthesize payload, or nil.
func (rc *RunContext) SynthesizePayload() *SynthesizePayload {
	if out := rc.Output(PhaseSynthesize); out != nil {
		if p, ok := out.Payload.(*SynthesizePayload); ok {
			return p
		}
	}
	return nil
}

// CheckPayload returns the latest check payload, or nil.
func (rc *RunContext) CheckPayload() *CheckPayload {
	if out := rc.Output(PhaseCheck); out != nil {
		if p, ok := out.Payload.(*CheckPayload); ok {
			return p
		}
	}
	return nil
}

// FinalReport is the terminal aggregate of a run. It exists for every
// run outcome: failed and stopped runs still carry everything gathered
// before termination plus an explicit stop reason.
type FinalReport struct {
	RunID      string               `json:"run_id"`
	Decision   Decision             `json:"decision"`
	Confidence reasoning.Confidence `json:"confidence,omitempty"`
	Summary    string               `json:"summary,omitempty"`
	Findings   []Finding            `json:"findings,omitempty"`
	Evidence   []string             `json:"evidence,omitempty"`

	// StopReason is set only when the run did not reach done.
	StopReason string `json:"stop_reason,omitempty"`

	TerminalPhase Phase            `json:"terminal_phase"`
	Iterations    int              `json:"iterations"`
	Todos         []TodoItem       `json:"todos,omitempty"`
	Results       []SubagentResult `json:"results,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}
