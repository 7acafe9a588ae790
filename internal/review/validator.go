package review

import (
	"strings"

	"github.com/fyrsmithlabs/reviewd/internal/fault"
)

// requirement is one declared context field a phase needs before it
// may execute.
type requirement struct {
	field   string
	present func(rc *RunContext) bool
}

// requiredFields declares what must exist in the run context before
// phase executes. delegate reports whether the act phase will fan out
// to sub-runs; only then does act demand a non-empty todo list.
func requiredFields(phase Phase, delegate bool) []requirement {
	switch phase {
	case PhaseIntake:
		return []requirement{
			{"input", func(rc *RunContext) bool { return rc.Input != nil }},
			{"input.diff", func(rc *RunContext) bool {
				return rc.Input != nil && (strings.TrimSpace(rc.Input.Diff) != "" || len(rc.Input.Files) > 0)
			}},
		}

	case PhasePlan:
		return []requirement{
			{"intake.summary", func(rc *RunContext) bool {
				p := rc.IntakePayload()
				return p != nil && p.Summary != ""
			}},
		}

	case PhaseAct:
		reqs := []requirement{
			{"plan", func(rc *RunContext) bool { return rc.PlanPayload() != nil }},
		}
		if delegate {
			reqs = append(reqs, requirement{"plan.todos", func(rc *RunContext) bool {
				p := rc.PlanPayload()
				return p != nil && len(p.Todos) > 0
			}})
		}
		return reqs

	case PhaseSynthesize:
		return []requirement{
			{"act", func(rc *RunContext) bool { return rc.ActPayload() != nil }},
			{"act.evidence", func(rc *RunContext) bool {
				p := rc.ActPayload()
				return p != nil && (len(p.Results) > 0 || len(p.Evidence) > 0)
			}},
		}

	case PhaseCheck:
		return []requirement{
			{"synthesize.findings", func(rc *RunContext) bool {
				return rc.SynthesizePayload() != nil
			}},
		}
	}

	return nil
}

// validateContext checks every field phase declares required, before
// the executor is invoked. All misses are enumerated in one structural
// fault so the caller sees the full gap at once.
func validateContext(rc *RunContext, phase Phase, delegate bool) error {
	var missing []string
	for _, req := range requiredFields(phase, delegate) {
		if !req.present(rc) {
			missing = append(missing, req.field)
		}
	}
	if len(missing) > 0 {
		return fault.NewStructural("review.validate",
			"phase %s missing required context: %s", phase, strings.Join(missing, ", "))
	}
	return nil
}
