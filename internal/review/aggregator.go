package review

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reviewd/internal/reasoning"
)

// buildReport reduces the accumulated phase outputs into the final
// report. It is called exactly once per run, at a terminal phase, and
// always produces a report: failed and stopped runs carry everything
// gathered before termination plus the explicit stop reason.
func buildReport(runID string, state *PhaseState, started time.Time) *FinalReport {
	report := &FinalReport{
		RunID:         runID,
		TerminalPhase: state.Current,
		Iterations:    state.Iteration,
		StopReason:    state.StopReason,
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}

	rc := &RunContext{State: state}

	if p := rc.IntakePayload(); p != nil {
		report.Summary = p.Summary
	}
	if p := rc.PlanPayload(); p != nil {
		report.Todos = append(report.Todos, p.Todos...)
	}
	if p := rc.ActPayload(); p != nil {
		report.Results = append(report.Results, p.Results...)
		report.Evidence = append(report.Evidence, p.Evidence...)
	}
	if p := rc.SynthesizePayload(); p != nil {
		report.Findings = append(report.Findings, p.Findings...)
	}

	if p := rc.CheckPayload(); p != nil && state.Current == PhaseDone {
		report.Decision = p.Decision
		report.Confidence = reasoning.Confidence(p.Confidence)
		if p.Rationale != "" {
			report.Summary = p.Rationale
		}
		return report
	}

	// The run ended before a verdict was settled: the decision defaults
	// to needs-more-evidence, and the stop reason explains why.
	report.Decision = DecisionNeedsEvidence
	report.Confidence = reasoning.ConfidenceLow
	if report.StopReason == "" {
		report.StopReason = fmt.Sprintf("run ended in phase %s without a verdict", state.Current)
	}
	return report
}
