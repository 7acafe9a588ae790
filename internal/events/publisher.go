package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/review"
)

const defaultSubjectPrefix = "reviewd"

// PhaseEvent is published on <prefix>.run.<id>.phase after every
// state machine transition.
type PhaseEvent struct {
	RunID     string       `json:"run_id"`
	From      review.Phase `json:"from"`
	To        review.Phase `json:"to"`
	Iteration int          `json:"iteration"`
	Timestamp time.Time    `json:"timestamp"`
}

// ReportEvent is published on <prefix>.run.<id>.report exactly once
// per run, whatever terminal phase it reached.
type ReportEvent struct {
	RunID     string              `json:"run_id"`
	Report    *review.FinalReport `json:"report"`
	Timestamp time.Time           `json:"timestamp"`
}

// Publisher forwards run progress to NATS. It implements
// review.RunObserver. Publish failures are logged and dropped so the
// orchestrator never stalls behind the broker.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewPublisher connects to the broker named in cfg. A disabled config
// returns (nil, nil); every method is a no-op on a nil Publisher, so
// callers do not need to branch on whether events are configured.
func NewPublisher(cfg *config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect to %s: %w", cfg.URL, err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	return &Publisher{nc: nc, prefix: prefix, logger: logger.Named("events")}, nil
}

// PhaseChanged implements review.RunObserver.
func (p *Publisher) PhaseChanged(ctx context.Context, runID string, from, to review.Phase, iteration int) {
	if p == nil {
		return
	}
	p.publish(ctx, fmt.Sprintf("%s.run.%s.phase", p.prefix, runID), PhaseEvent{
		RunID:     runID,
		From:      from,
		To:        to,
		Iteration: iteration,
		Timestamp: time.Now().UTC(),
	})
}

// RunCompleted implements review.RunObserver.
func (p *Publisher) RunCompleted(ctx context.Context, runID string, report *review.FinalReport) {
	if p == nil {
		return
	}
	p.publish(ctx, fmt.Sprintf("%s.run.%s.report", p.prefix, runID), ReportEvent{
		RunID:     runID,
		Report:    report,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, subject string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn(ctx, "encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
