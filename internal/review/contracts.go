package review

import (
	"encoding/json"
	"strings"

	"github.com/fyrsmithlabs/reviewd/internal/fault"
)

// IntakePayload frames the review: what changed and where the risk is.
type IntakePayload struct {
	Summary   string   `json:"summary"`
	Scope     []string `json:"scope,omitempty"`
	RiskAreas []string `json:"risk_areas,omitempty"`
}

// PlanPayload carries the delegated work breakdown.
type PlanPayload struct {
	Todos []TodoItem `json:"todos"`
	Notes string     `json:"notes,omitempty"`
}

// ActPayload carries gathered evidence. A delegating act phase fills
// Results from the dispatcher; a leaf act phase (inside a sub-run)
// fills Evidence directly.
type ActPayload struct {
	Results  []SubagentResult `json:"results,omitempty"`
	Evidence []string         `json:"evidence,omitempty"`
	Summary  string           `json:"summary,omitempty"`
}

// SynthesizePayload folds evidence into findings. Complete reports
// whether the review has enough evidence to move to check; Gaps names
// what is still missing when it does not.
type SynthesizePayload struct {
	Findings []Finding `json:"findings"`
	Complete bool      `json:"complete"`
	Gaps     []string  `json:"gaps,omitempty"`
}

// CheckPayload settles the verdict.
type CheckPayload struct {
	Decision   Decision `json:"decision"`
	Rationale  string   `json:"rationale,omitempty"`
	Confidence string   `json:"confidence,omitempty"`
}

// envelope is the JSON shape both execution paths must produce for
// every phase. Payload is validated against the phase's contract;
// the reasoning fields feed the run trace.
type envelope struct {
	NextPhase string          `json:"next_phase"`
	Goals     []string        `json:"goals,omitempty"`
	Checks    []string        `json:"checks,omitempty"`
	Risks     []string        `json:"risks,omitempty"`
	Decision  string          `json:"decision,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// parsePayload decodes and validates a phase payload against that
// phase's contract. Every failure here is structural: the call
// succeeded but the content broke the contract.
func parsePayload(phase Phase, raw json.RawMessage) (any, error) {
	const op = "review.contract"

	if len(raw) == 0 {
		return nil, fault.NewStructural(op, "phase %s produced no payload", phase)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()

	switch phase {
	case PhaseIntake:
		var p IntakePayload
		if err := dec.Decode(&p); err != nil {
			return nil, fault.NewStructural(op, "phase %s payload violates contract: %v", phase, err)
		}
		if p.Summary == "" {
			return nil, fault.NewStructural(op, "phase %s payload missing summary", phase)
		}
		return &p, nil

	case PhasePlan:
		var p PlanPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fault.NewStructural(op, "phase %s payload violates contract: %v", phase, err)
		}
		seen := make(map[string]bool, len(p.Todos))
		for i := range p.Todos {
			todo := &p.Todos[i]
			if todo.ID == "" {
				return nil, fault.NewStructural(op, "phase %s payload: todo %d missing id", phase, i)
			}
			if seen[todo.ID] {
				return nil, fault.NewStructural(op, "phase %s payload: duplicate todo id %q", phase, todo.ID)
			}
			seen[todo.ID] = true
			if todo.Status == "" {
				todo.Status = TodoPending
			}
		}
		for _, todo := range p.Todos {
			for _, dep := range todo.DependsOn {
				if !seen[dep] {
					return nil, fault.NewStructural(op,
						"phase %s payload: todo %q depends on unknown todo %q", phase, todo.ID, dep)
				}
			}
		}
		return &p, nil

	case PhaseAct:
		var p ActPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fault.NewStructural(op, "phase %s payload violates contract: %v", phase, err)
		}
		return &p, nil

	case PhaseSynthesize:
		var p SynthesizePayload
		if err := dec.Decode(&p); err != nil {
			return nil, fault.NewStructural(op, "phase %s payload violates contract: %v", phase, err)
		}
		for i, f := range p.Findings {
			if f.Title == "" {
				return nil, fault.NewStructural(op, "phase %s payload: finding %d missing title", phase, i)
			}
		}
		return &p, nil

	case PhaseCheck:
		var p CheckPayload
		if err := dec.Decode(&p); err != nil {
			return nil, fault.NewStructural(op, "phase %s payload violates contract: %v", phase, err)
		}
		switch p.Decision {
		case DecisionApprove, DecisionBlock, DecisionNeedsEvidence:
		default:
			return nil, fault.NewStructural(op, "phase %s payload: unknown decision %q", phase, p.Decision)
		}
		return &p, nil
	}

	return nil, fault.NewStructural(op, "no contract for phase %q", phase)
}

// parseResponse normalizes one raw model response into a PhaseOutput.
// The requested next phase must at least be a known phase; whether the
// transition is legal is the state machine's call, not the parser's.
func parseResponse(phase Phase, content string) (*PhaseOutput, error) {
	const op = "review.contract"

	var env envelope
	if err := json.Unmarshal([]byte(stripFences(content)), &env); err != nil {
		return nil, fault.NewStructural(op, "phase %s response is not valid JSON: %v", phase, err)
	}

	requested := Phase(env.NextPhase)
	if env.NextPhase == "" {
		return nil, fault.NewStructural(op, "phase %s response missing next_phase", phase)
	}
	if !requested.Valid() {
		return nil, fault.NewStructural(op, "phase %s requested unknown phase %q", phase, env.NextPhase)
	}

	payload, err := parsePayload(phase, env.Payload)
	if err != nil {
		return nil, err
	}

	return &PhaseOutput{
		Phase:     phase,
		Requested: requested,
		Payload:   payload,
		Goals:     env.Goals,
		Checks:    env.Checks,
		Risks:     env.Risks,
		Decision:  env.Decision,
	}, nil
}

// stripFences removes a markdown code fence around a JSON body. Models
// wrap JSON that way often enough that refusing to peel it would turn
// a well-formed response into a contract violation.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
