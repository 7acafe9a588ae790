package review

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxPromptDiff caps how much diff text is inlined into a prompt.
const maxPromptDiff = 64 << 10 // 64KB

// responseProtocol tells the backend what shape every phase response
// must take. Both execution paths get the same protocol so their
// outputs normalize identically.
const responseProtocol = `Respond with a single JSON object and nothing else:
{
  "next_phase": "<the phase you request next>",
  "goals": ["what this phase set out to establish"],
  "checks": ["what was verified"],
  "risks": ["what remains uncertain"],
  "decision": "<one-line summary of this phase's conclusion>",
  "payload": <the phase payload described above>
}`

// phaseInstructions carries the per-phase task description and payload
// contract. The orchestrator is agnostic to review discipline; these
// describe shape and sequencing, not what to look for.
var phaseInstructions = map[Phase]string{
	PhaseIntake: `You are performing the intake phase of an automated code review.
Summarize what the change does, which areas of the codebase it touches,
and where review effort should concentrate.

Payload contract:
{"summary": "<what the change does>", "scope": ["touched areas"], "risk_areas": ["areas needing scrutiny"]}

Request "plan" next.`,

	PhasePlan: `You are performing the plan phase of an automated code review.
Break the review into independent, scoped todo items. Each item must be
answerable on its own; declare dependencies between items explicitly.

Payload contract:
{"todos": [{"id": "t1", "description": "...", "priority": 1, "depends_on": []}], "notes": "..."}

Request "act" next.`,

	PhaseAct: `You are performing the act phase of an automated code review,
scoped to exactly one todo item. Gather concrete evidence answering it:
cite file paths and line references, quote the relevant hunks, and state
what you verified.

Payload contract:
{"evidence": ["file.go:42: what it shows"], "summary": "<what the evidence establishes>"}

Request "synthesize" next.`,

	PhaseSynthesize: `You are performing the synthesize phase of an automated code review.
Fold the gathered evidence into findings. Every finding needs a title, a
severity (info, minor, major, critical), and evidence references. If the
evidence is insufficient to conclude the review, say so and name the gaps.

Payload contract:
{"findings": [{"title": "...", "detail": "...", "severity": "major", "confidence": "high", "evidence": ["file.go:42"]}], "complete": true, "gaps": []}

Request "check" when complete is true; request "act" or "plan" when more
evidence is needed.`,

	PhaseCheck: `You are performing the check phase of an automated code review.
Verify the findings against the evidence and settle the verdict:
"approve", "block", or "needs-more-evidence".

Payload contract:
{"decision": "approve", "rationale": "...", "confidence": "high"}

Request "done" next.`,
}

// buildPrompt assembles the full prompt for one phase execution from
// the phase instructions, the response protocol, and the accumulated
// run context.
func buildPrompt(phase Phase, rc *RunContext) string {
	var b strings.Builder

	b.WriteString(phaseInstructions[phase])
	b.WriteString("\n\n")
	b.WriteString(responseProtocol)
	b.WriteString("\n\n## Change under review\n")

	if rc.Input != nil {
		fmt.Fprintf(&b, "Repository: %s\nRefs: %s..%s\n",
			rc.Input.Repository, rc.Input.BaseRef, rc.Input.HeadRef)
		if len(rc.Input.Files) > 0 {
			b.WriteString("Changed files:\n")
			for _, f := range rc.Input.Files {
				fmt.Fprintf(&b, "  %s %s (+%d/-%d)\n", f.Status, f.Path, f.Additions, f.Deletions)
			}
		}
		if diff := rc.Input.Diff; diff != "" {
			if len(diff) > maxPromptDiff {
				diff = diff[:maxPromptDiff] + "\n[diff truncated]"
			}
			b.WriteString("\n```diff\n")
			b.WriteString(diff)
			b.WriteString("\n```\n")
		}
	}

	if rc.Todo != nil {
		fmt.Fprintf(&b, "\n## Assigned todo item\nid: %s\n%s\n", rc.Todo.ID, rc.Todo.Description)
	}

	if p := rc.IntakePayload(); p != nil {
		writeContextSection(&b, "Intake", p)
	}
	if p := rc.PlanPayload(); p != nil && phase != PhaseIntake && phase != PhasePlan {
		writeContextSection(&b, "Plan", p)
	}
	if p := rc.ActPayload(); p != nil && (phase == PhaseSynthesize || phase == PhaseCheck) {
		writeContextSection(&b, "Evidence", p)
	}
	if p := rc.SynthesizePayload(); p != nil && phase == PhaseCheck {
		writeContextSection(&b, "Findings", p)
	}

	return b.String()
}

// writeContextSection appends one prior phase's payload as JSON.
func writeContextSection(b *strings.Builder, title string, payload any) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(b, "\n## %s\n%s\n", title, data)
}
