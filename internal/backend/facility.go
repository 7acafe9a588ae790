package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/fault"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// maxFacilityResponse caps how much of a facility reply is read.
const maxFacilityResponse = 32 << 20 // 32MB

// HTTPFacility is the orchestrated-agent execution path.
//
// It posts phase prompts to an external facility that owns model
// invocation and tool access:
//
//	POST {base}/v1/execute  {"prompt": ..., "tool_permissions": [...]}
//	GET  {base}/health      availability probe
type HTTPFacility struct {
	baseURL      string
	client       *http.Client
	probeTimeout time.Duration
	logger       *logging.Logger
	tracer       trace.Tracer
}

// NewHTTPFacility creates a facility client from config.
func NewHTTPFacility(cfg *config.FacilityConfig, logger *logging.Logger) (*HTTPFacility, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("facility base URL is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &HTTPFacility{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		client:       &http.Client{Timeout: cfg.RequestTimeout.Duration()},
		probeTimeout: cfg.ProbeTimeout.Duration(),
		logger:       logger,
		tracer:       otel.Tracer(instrumentationName),
	}, nil
}

// Execute hands one phase prompt to the facility.
func (f *HTTPFacility) Execute(ctx context.Context, req *ExecuteRequest) (*RawResponse, error) {
	const op = "facility.execute"

	ctx, span := f.tracer.Start(ctx, "facility.execute")
	defer span.End()
	span.SetAttributes(attribute.Int("facility.tool_permissions", len(req.ToolPermissions)))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fault.WrapStructural(op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fault.WrapStructural(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		ferr := classifyTransportError(op, err)
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Error())
		return nil, ferr
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("facility returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))

		var ferr error
		if fault.RetryableStatus(resp.StatusCode) {
			ferr = fault.NewTransient(op, cause)
		} else {
			ferr = fault.WrapStructural(op, cause)
		}
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Error())
		return nil, ferr
	}

	var out RawResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFacilityResponse)).Decode(&out); err != nil {
		ferr := fault.NewStructural(op, "malformed facility response: %v", err)
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Error())
		return nil, ferr
	}
	if out.Content == "" {
		return nil, fault.NewStructural(op, "facility response missing content")
	}

	out.Origin = OriginFacility

	f.logger.Debug(ctx, "facility execution completed",
		zap.Int64("input_tokens", out.InputTokens),
		zap.Int64("output_tokens", out.OutputTokens))

	return &out, nil
}

// Available probes the facility health endpoint. A run decides once, at
// start, whether to use the orchestrated path; it never flips paths
// mid-run.
func (f *HTTPFacility) Available(ctx context.Context) bool {
	if f.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.probeTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug(ctx, "facility probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode == http.StatusOK
}

// classifyTransportError maps client.Do failures: cancellation is
// structural, everything else (timeouts, refused connections, DNS) is
// transient.
func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fault.WrapStructural(op, err)
	}
	return fault.NewTransient(op, err)
}
