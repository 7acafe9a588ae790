package reasoning

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// StepKind classifies one reasoning step within a frame.
type StepKind string

const (
	// StepTransition records a phase-change decision.
	StepTransition StepKind = "transition"
	// StepToolUse records an evidence-gathering tool invocation.
	StepToolUse StepKind = "tool-use"
	// StepDelegate records fan-out of a todo item to a subagent.
	StepDelegate StepKind = "delegate"
	// StepGate records a validation or contract check.
	StepGate StepKind = "gate"
	// StepStop records a terminal decision.
	StepStop StepKind = "stop"
)

// Confidence expresses how certain a phase or subagent is of a result.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Step is one ordered reasoning step inside a Frame.
//
// EvidenceRefs hold locators (file:line, todo identifiers, tool names),
// never copies of the underlying data.
type Step struct {
	Kind         StepKind   `json:"kind"`
	Rationale    string     `json:"rationale"`
	EvidenceRefs []string   `json:"evidence_refs,omitempty"`
	NextPhase    string     `json:"next_phase,omitempty"`
	Confidence   Confidence `json:"confidence,omitempty"`
}

// Frame is the trace record of one completed phase.
type Frame struct {
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Goals     []string  `json:"goals,omitempty"`
	Checks    []string  `json:"checks,omitempty"`
	Risks     []string  `json:"risks,omitempty"`
	Steps     []Step    `json:"steps,omitempty"`
	Decision  string    `json:"decision,omitempty"`
}

// Recorder accumulates Frames for a single run.
//
// All methods are safe for concurrent use and safe on a nil receiver,
// so callers on error paths never have to guard their trace calls.
type Recorder struct {
	mu     sync.RWMutex
	frames []Frame
	logger *logging.Logger
}

// NewRecorder creates an empty per-run recorder.
// The logger echoes each frame at trace level; nil disables the echo.
func NewRecorder(logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{logger: logger}
}

// Record appends one frame to the run trace.
//
// A zero Timestamp is stamped with the current time. The frame's slices
// are copied so later mutation by the caller cannot rewrite history.
func (r *Recorder) Record(ctx context.Context, frame Frame) {
	if r == nil {
		return
	}

	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	frame.Goals = append([]string(nil), frame.Goals...)
	frame.Checks = append([]string(nil), frame.Checks...)
	frame.Risks = append([]string(nil), frame.Risks...)
	frame.Steps = append([]Step(nil), frame.Steps...)

	r.mu.Lock()
	r.frames = append(r.frames, frame)
	total := len(r.frames)
	r.mu.Unlock()

	r.logger.Trace(ctx, "reasoning frame recorded",
		zap.String("frame.phase", frame.Phase),
		zap.String("frame.decision", frame.Decision),
		zap.Int("frame.steps", len(frame.Steps)),
		zap.Int("trace.frames", total))
}

// Frames returns a copy of all recorded frames in creation order.
func (r *Recorder) Frames() []Frame {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Len returns the number of recorded frames.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frames)
}
