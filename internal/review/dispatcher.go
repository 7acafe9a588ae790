package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// runTodoFunc runs one delegated todo item through a nested phase
// machine and always returns a result, error included.
type runTodoFunc func(ctx context.Context, todo *TodoItem) *SubagentResult

// dispatcher fans todo items out to concurrent sub-runs.
//
// Items are dispatched in dependency rounds: a round runs every
// pending item whose dependencies are all done, bounded by
// maxParallel. Items whose dependencies terminally failed are blocked;
// items that can never become ready (cancellation, cycles, a deferred
// dependency) are deferred. Every input item ends with exactly one
// SubagentResult, and the aggregated slice preserves input order.
type dispatcher struct {
	maxParallel int
	run         runTodoFunc

	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// Dispatch runs todos to completion and returns one result per item,
// in the original order.
func (d *dispatcher) Dispatch(ctx context.Context, todos []*TodoItem) []SubagentResult {
	ctx, span := d.tracer.Start(ctx, "review.dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("dispatch.todos", len(todos)))

	if d.maxParallel < 1 {
		d.maxParallel = 1
	}

	byID := make(map[string]*TodoItem, len(todos))
	for _, t := range todos {
		byID[t.ID] = t
	}

	results := make(map[string]*SubagentResult, len(todos))
	var mu sync.Mutex

	record := func(t *TodoItem, res *SubagentResult) {
		mu.Lock()
		results[t.ID] = res
		mu.Unlock()
		d.metrics.SubtasksTotal.WithLabelValues(string(res.Status)).Inc()
	}

	for {
		ready, progressed := d.collectReady(todos, byID, record)
		if len(ready) == 0 {
			if progressed {
				continue
			}
			break
		}

		if ctx.Err() != nil {
			// The run is being torn down; nothing new gets dispatched,
			// but every ready item still gets an explicit result.
			for _, t := range ready {
				_ = t.Transition(TodoDeferred)
				record(t, &SubagentResult{
					TodoID: t.ID,
					Status: TodoDeferred,
					Error:  fmt.Sprintf("not dispatched: %v", ctx.Err()),
				})
			}
			continue
		}

		d.runRound(ctx, ready, record)
	}

	// Anything that never became ready (cycles, deferred dependencies)
	// is deferred so the result set stays complete.
	for _, t := range todos {
		if t.Status == TodoPending {
			_ = t.Transition(TodoDeferred)
			record(t, &SubagentResult{
				TodoID: t.ID,
				Status: TodoDeferred,
				Error:  "dependencies never resolved",
			})
		}
	}

	out := make([]SubagentResult, 0, len(todos))
	for _, t := range todos {
		if res := results[t.ID]; res != nil {
			out = append(out, *res)
		}
	}

	d.logger.Info(ctx, "dispatch complete",
		zap.Int("todos", len(todos)),
		zap.Int("results", len(out)))
	span.SetAttributes(attribute.Int("dispatch.results", len(out)))

	return out
}

// collectReady partitions pending items: those whose dependencies are
// all done become the next round; those with a terminally unsuccessful
// dependency are blocked immediately. progressed reports whether any
// item changed status, so the caller can re-scan for newly unblocked
// dependents.
func (d *dispatcher) collectReady(todos []*TodoItem, byID map[string]*TodoItem, record func(*TodoItem, *SubagentResult)) (ready []*TodoItem, progressed bool) {
	for _, t := range todos {
		if t.Status != TodoPending {
			continue
		}

		dispatchable := true
		for _, dep := range t.DependsOn {
			depItem := byID[dep]
			switch {
			case depItem == nil || depItem.Status == TodoDone:
				// Unknown ids are rejected at contract parse time.
			case depItem.Status.Terminal():
				_ = t.Transition(TodoBlocked)
				record(t, &SubagentResult{
					TodoID: t.ID,
					Status: TodoBlocked,
					Error:  fmt.Sprintf("dependency %s ended %s", dep, depItem.Status),
				})
				progressed = true
				dispatchable = false
			default:
				dispatchable = false
			}
			if !dispatchable {
				break
			}
		}
		if dispatchable {
			ready = append(ready, t)
		}
	}
	return ready, progressed
}

// runRound executes one dependency round under the parallelism bound.
// The join is structured: the round only returns once every dispatched
// item has produced a result, no matter how its siblings fared.
func (d *dispatcher) runRound(ctx context.Context, ready []*TodoItem, record func(*TodoItem, *SubagentResult)) {
	sem := make(chan struct{}, d.maxParallel)
	var wg sync.WaitGroup

	for _, t := range ready {
		wg.Add(1)
		go func(todo *TodoItem) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			todoCtx := logging.WithTodoID(ctx, todo.ID)
			todoCtx, span := d.tracer.Start(todoCtx, "review.subtask")
			span.SetAttributes(attribute.String("todo.id", todo.ID))
			defer span.End()

			if err := todo.Transition(TodoInProgress); err != nil {
				record(todo, &SubagentResult{
					TodoID: todo.ID,
					Status: todo.Status,
					Error:  err.Error(),
				})
				return
			}

			start := time.Now()
			res := d.run(todoCtx, todo)
			d.metrics.SubtaskSeconds.Observe(time.Since(start).Seconds())

			if res == nil {
				res = &SubagentResult{
					TodoID: todo.ID,
					Status: TodoFailed,
					Error:  "sub-run returned no result",
				}
			}
			if !res.Status.Terminal() {
				res.Status = TodoFailed
			}
			_ = todo.Transition(res.Status)

			span.SetAttributes(attribute.String("todo.status", string(res.Status)))
			d.logger.Debug(todoCtx, "subtask finished",
				zap.String("todo.id", todo.ID),
				zap.String("todo.status", string(res.Status)),
				zap.Duration("duration", time.Since(start)))

			record(todo, res)
		}(t)
	}

	wg.Wait()
}
