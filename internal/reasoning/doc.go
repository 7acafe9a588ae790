// Package reasoning records the per-run trace of what each review phase
// decided and why.
//
// A Recorder is created per run, owned by the run, and discarded with
// it. It appends one Frame per completed phase: the goals the phase
// pursued, the checks it made, the risks it saw, its ordered reasoning
// steps, and the decision it reached. Frames are observability data
// only; they never appear in the final report and recording never fails
// or blocks the run it documents.
package reasoning
