package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/fault"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// Kind identifies what a session handle is leased for.
type Kind string

const (
	// KindRun backs a top-level phase execution.
	KindRun Kind = "run"
	// KindSubagent backs one delegated todo item.
	KindSubagent Kind = "subagent"
)

// Handle is an opaque lease on one pool slot.
type Handle struct {
	id         string
	kind       Kind
	acquiredAt time.Time

	released atomic.Bool
}

// ID returns the unique handle identifier.
func (h *Handle) ID() string { return h.id }

// Kind returns what the handle was leased for.
func (h *Handle) Kind() Kind { return h.kind }

// Stats is a point-in-time snapshot of pool bookkeeping.
type Stats struct {
	Active   int   `json:"active"`
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
}

// Pool is a bounded in-memory session pool.
//
// Acquire blocks until a slot frees or the configured acquire timeout
// expires. Release is serialized per handle: the first call frees the
// slot, later calls are no-ops.
type Pool struct {
	maxActive      int
	acquireTimeout time.Duration

	slots  chan struct{}
	logger *logging.Logger

	mu     sync.Mutex
	active map[string]*Handle
	closed bool

	acquired atomic.Int64
	released atomic.Int64

	acquiredCounter metric.Int64Counter
	releasedCounter metric.Int64Counter
	activeCounter   metric.Int64UpDownCounter
	waitHistogram   metric.Float64Histogram
}

// NewPool creates a bounded session pool.
// A nil meter falls back to the global (no-op by default) provider.
func NewPool(cfg *config.SessionsConfig, logger *logging.Logger, meter metric.Meter) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("sessions config is required")
	}
	if cfg.MaxActive < 1 {
		return nil, fmt.Errorf("sessions.max_active must be at least 1, got %d", cfg.MaxActive)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if meter == nil {
		meter = otel.Meter("reviewd.session")
	}

	p := &Pool{
		maxActive:      cfg.MaxActive,
		acquireTimeout: cfg.AcquireTimeout.Duration(),
		slots:          make(chan struct{}, cfg.MaxActive),
		logger:         logger,
		active:         make(map[string]*Handle),
	}

	var err error
	p.acquiredCounter, err = meter.Int64Counter(
		"reviewd.sessions.acquired_total",
		metric.WithDescription("Total number of session handles acquired"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	p.releasedCounter, err = meter.Int64Counter(
		"reviewd.sessions.released_total",
		metric.WithDescription("Total number of session handles released"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	p.activeCounter, err = meter.Int64UpDownCounter(
		"reviewd.sessions.active",
		metric.WithDescription("Currently leased session handles"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	p.waitHistogram, err = meter.Float64Histogram(
		"reviewd.sessions.acquire_wait_seconds",
		metric.WithDescription("Time spent waiting for a free session slot"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Acquire leases one handle of the given kind.
//
// It blocks until a slot frees, the acquire timeout expires (transient
// failure), or ctx is canceled (structural failure). Callers must hand
// the returned handle back through Release.
func (p *Pool) Acquire(ctx context.Context, kind Kind) (*Handle, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fault.NewStructural("session.acquire", "pool is closed")
	}

	waitCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	start := time.Now()
	select {
	case p.slots <- struct{}{}:
	case <-waitCtx.Done():
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			p.logger.Warn(ctx, "session acquire timed out",
				zap.String("session.kind", string(kind)),
				zap.Duration("timeout", p.acquireTimeout))
			return nil, fault.NewTransient("session.acquire",
				fmt.Errorf("no session available within %s: %w", p.acquireTimeout, waitCtx.Err()))
		}
		return nil, fault.WrapStructural("session.acquire", ctx.Err())
	}

	h := &Handle{
		id:         uuid.NewString(),
		kind:       kind,
		acquiredAt: time.Now(),
	}

	p.mu.Lock()
	p.active[h.id] = h
	p.mu.Unlock()

	p.acquired.Add(1)

	attrs := metric.WithAttributes(attribute.String("session.kind", string(kind)))
	p.acquiredCounter.Add(ctx, 1, attrs)
	p.activeCounter.Add(ctx, 1, attrs)
	p.waitHistogram.Record(ctx, time.Since(start).Seconds(), attrs)

	p.logger.Trace(ctx, "session acquired",
		zap.String("session.id", h.id),
		zap.String("session.kind", string(kind)))

	return h, nil
}

// Release returns a handle to the pool.
//
// Safe to call with nil and safe to call more than once per handle;
// only the first call frees the slot.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	delete(p.active, h.id)
	p.mu.Unlock()

	<-p.slots
	p.released.Add(1)

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("session.kind", string(h.kind)))
	p.releasedCounter.Add(ctx, 1, attrs)
	p.activeCounter.Add(ctx, -1, attrs)

	p.logger.Trace(ctx, "session released",
		zap.String("session.id", h.id),
		zap.String("session.kind", string(h.kind)),
		zap.Duration("held", time.Since(h.acquiredAt)))
}

// With runs fn under a leased handle and releases it on every exit
// path, including a panic in fn.
func (p *Pool) With(ctx context.Context, kind Kind, fn func(context.Context, *Handle) error) error {
	h, err := p.Acquire(ctx, kind)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(ctx, h)
}

// Stats returns a snapshot of the pool bookkeeping.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	active := len(p.active)
	p.mu.Unlock()

	return Stats{
		Active:   active,
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
	}
}

// Close stops further acquisition. Handles already leased stay valid
// and must still be released; Release keeps working after Close so the
// acquire/release balance holds.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
