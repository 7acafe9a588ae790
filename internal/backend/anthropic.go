package backend

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/fault"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// errAPIKeyRequired is returned when no API key is configured.
var errAPIKeyRequired = errors.New("anthropic API key required: set backend.api_key or ANTHROPIC_API_KEY")

// AnthropicCompleter is the direct reasoning-backend path.
//
// It performs a single completion per call; retry policy belongs to the
// caller (the failure classifier), not here. Calls are rate limited
// process-wide by the configured requests-per-second budget.
type AnthropicCompleter struct {
	client         anthropic.Client
	model          anthropic.Model
	maxTokens      int64
	requestTimeout time.Duration
	limiter        *rate.Limiter
	logger         *logging.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewAnthropicCompleter creates the direct completion client.
// The ANTHROPIC_API_KEY environment variable takes precedence over the
// configured key.
func NewAnthropicCompleter(cfg *config.BackendConfig, logger *logging.Logger) (*AnthropicCompleter, error) {
	if cfg == nil {
		return nil, errors.New("backend config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	apiKey := cfg.APIKey.Value()
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	c := &AnthropicCompleter{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(cfg.Model),
		maxTokens:      int64(cfg.MaxTokens),
		requestTimeout: cfg.RequestTimeout.Duration(),
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:         logger,
		tracer:         otel.Tracer(instrumentationName),
		meter:          otel.Meter(instrumentationName),
	}

	c.initMetrics()

	return c, nil
}

func (c *AnthropicCompleter) initMetrics() {
	var err error

	c.inputTokens, err = c.meter.Int64Counter(
		"reviewd.backend.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		c.logger.Warn(context.Background(), "failed to create input token counter", zap.Error(err))
	}

	c.outputTokens, err = c.meter.Int64Counter(
		"reviewd.backend.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		c.logger.Warn(context.Background(), "failed to create output token counter", zap.Error(err))
	}

	c.duration, err = c.meter.Float64Histogram(
		"reviewd.backend.request_duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		c.logger.Warn(context.Background(), "failed to create duration histogram", zap.Error(err))
	}
}

// Complete sends one prompt to the Anthropic API and returns the text
// of the first content block.
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string) (*RawResponse, error) {
	const op = "backend.complete"

	ctx, span := c.tracer.Start(ctx, "backend.complete")
	defer span.End()
	span.SetAttributes(attribute.String("backend.model", string(c.model)))

	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fault.WrapStructural(op, ctx.Err())
		}
		return nil, fault.NewTransient(op, err)
	}

	callCtx := ctx
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	t0 := time.Now()
	message, err := c.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	ms := float64(time.Since(t0).Milliseconds())

	if err != nil {
		ferr := classifyCallError(op, err)
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Error())
		return nil, ferr
	}

	modelAttr := metric.WithAttributes(attribute.String("backend.model", string(c.model)))
	if c.inputTokens != nil {
		c.inputTokens.Add(ctx, message.Usage.InputTokens, modelAttr)
		c.outputTokens.Add(ctx, message.Usage.OutputTokens, modelAttr)
		c.duration.Record(ctx, ms, modelAttr)
	}
	span.SetAttributes(
		attribute.Int64("backend.input_tokens", message.Usage.InputTokens),
		attribute.Int64("backend.output_tokens", message.Usage.OutputTokens),
	)

	text, err := extractText(message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.logger.Debug(ctx, "completion received",
		zap.Int64("input_tokens", message.Usage.InputTokens),
		zap.Int64("output_tokens", message.Usage.OutputTokens),
		zap.Float64("duration_ms", ms))

	return &RawResponse{
		Content:      text,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
		Origin:       OriginDirect,
	}, nil
}

// extractText pulls the text of the first content block, failing
// structurally on any other shape.
func extractText(message *anthropic.Message) (string, error) {
	const op = "backend.complete"

	if message == nil || len(message.Content) == 0 {
		return "", fault.NewStructural(op, "unexpected response format: no content blocks")
	}
	block := message.Content[0]
	if block.Type != "text" {
		return "", fault.NewStructural(op, "unexpected response format: not a text block (type=%s)", block.Type)
	}
	return block.Text, nil
}

// classifyCallError maps an Anthropic SDK error onto the fault taxonomy:
// retryable HTTP statuses and transport timeouts are transient, other
// API responses are structural, and anything else from the SDK is a
// connection-level failure, also transient.
func classifyCallError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fault.WrapStructural(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.NewTransient(op, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if fault.RetryableStatus(apiErr.StatusCode) {
			return fault.NewTransient(op, err)
		}
		return fault.WrapStructural(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.NewTransient(op, err)
	}

	return fault.NewTransient(op, err)
}
