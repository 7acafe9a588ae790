package review

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/backend"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// Completer is the direct reasoning-backend path.
type Completer interface {
	Complete(ctx context.Context, prompt string) (*backend.RawResponse, error)
}

// Facility is the orchestrated-agent execution path. It owns model
// invocation and tool access; Available probes whether it can serve a
// run at all.
type Facility interface {
	Execute(ctx context.Context, req *backend.ExecuteRequest) (*backend.RawResponse, error)
	Available(ctx context.Context) bool
}

// toolPermissions is what a facility-served phase may touch. Tool
// primitives are invoked only inside a phase's execution, never by the
// orchestrator directly.
var toolPermissions = []string{"fs.read", "repo.grep", "analysis.static"}

// executor turns a validated run context plus a target phase into one
// PhaseOutput. The execution path is chosen once per run; downstream
// code is path-agnostic because both paths normalize to the same raw
// response shape before parsing.
type executor struct {
	completer   Completer
	facility    Facility
	useFacility bool
	timeout     time.Duration

	logger *logging.Logger
	tracer trace.Tracer
}

// execute performs a single attempt: build the prompt, obtain a raw
// response from the chosen path, and parse it against the phase
// contract. Retry policy belongs to the caller.
func (e *executor) execute(ctx context.Context, rc *RunContext, phase Phase) (*PhaseOutput, error) {
	ctx, span := e.tracer.Start(ctx, "review.execute_phase")
	defer span.End()
	span.SetAttributes(
		attribute.String("review.phase", string(phase)),
		attribute.Bool("review.facility", e.useFacility),
	)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	prompt := buildPrompt(phase, rc)

	var (
		raw *backend.RawResponse
		err error
	)
	if e.useFacility {
		raw, err = e.facility.Execute(ctx, &backend.ExecuteRequest{
			Prompt:          prompt,
			ToolPermissions: toolPermissions,
		})
	} else {
		raw, err = e.completer.Complete(ctx, prompt)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out, err := parseResponse(phase, raw.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	out.Origin = raw.Origin

	e.logger.Debug(ctx, "phase executed",
		zap.String("phase", string(phase)),
		zap.String("requested", string(out.Requested)),
		zap.String("origin", out.Origin))

	span.SetAttributes(attribute.String("review.requested", string(out.Requested)))
	return out, nil
}

// choosePath decides once, at run start, whether the orchestrated
// facility serves this run. Per-call transient faults inside the
// chosen path stay in that path's retry budget; the run never flips
// paths mid-retry.
func choosePath(ctx context.Context, facility Facility, logger *logging.Logger) bool {
	if facility == nil {
		return false
	}
	if facility.Available(ctx) {
		return true
	}
	logger.Info(ctx, "agent facility unavailable, using direct backend path")
	return false
}
