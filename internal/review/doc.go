// Package review implements the phase-state-machine orchestrator that
// drives an automated, evidence-gathering review of a code change.
//
// A run walks a fixed phase sequence (intake, plan, act, synthesize,
// check) under a static transition table, validates each phase's
// required context before execution, classifies failures into
// retryable and fatal, fans delegated work out to bounded concurrent
// sub-runs, and reduces everything into a FinalReport. The single
// public entry point is Runner.Run.
package review
