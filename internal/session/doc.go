// Package session manages the pool of execution-resource handles that
// back review phases and delegated sub-tasks.
//
// Every phase execution and every delegated todo leases one handle from
// the pool and returns it when the work ends, whatever the outcome.
// Release is idempotent per handle, so double release on a tangled error
// path is harmless, and the acquired/released counters always balance.
//
// # Usage
//
//	pool, err := session.NewPool(&cfg.Sessions, logger, meter)
//	if err != nil {
//	    return err
//	}
//	err = pool.With(ctx, session.KindRun, func(ctx context.Context, h *session.Handle) error {
//	    return executePhase(ctx, h)
//	})
//
// With guarantees the handle is released on every exit path, including
// panics in fn.
package session
