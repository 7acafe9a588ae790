// Package fault defines the failure taxonomy shared by every fallible
// operation in reviewd, and a bounded retry engine driven by it.
//
// Every failure is exactly one of three classes:
//
//   - Structural: a violated data, contract, or transition rule (illegal
//     phase transition, missing required context field, malformed response).
//     Never retried. Errors that cannot be classified default to structural
//     so that nothing is ever retried by accident.
//   - Transient: a momentary external fault (timeout, transport error,
//     backend briefly unavailable). Retried up to a bounded budget, then
//     promoted to fatal with the original cause preserved in the wrap chain.
//   - Budget: an execution budget ran out (iteration limit). Always fatal,
//     but distinct from structural so callers can report "ran out of turns"
//     instead of "broke a rule".
//
// Retry runs an operation under RetryConfig, records every attempt, and
// applies exponential backoff between transient failures:
//
//	attempts, err := fault.Retry(ctx, "backend.complete", cfg, func(ctx context.Context) error {
//	    out, err = client.Complete(ctx, prompt)
//	    return err
//	})
//
// The attempt records feed the reasoning trace; the returned error carries
// the last underlying cause when the budget is exhausted.
package fault
