package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/changeset"
	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/reasoning"
	"github.com/fyrsmithlabs/reviewd/internal/redact"
	"github.com/fyrsmithlabs/reviewd/internal/review"
)

// ReviewService is the part of review.Runner the MCP server uses.
type ReviewService interface {
	Run(ctx context.Context, input *review.ReviewInput) (*review.FinalReport, error)
	Trace() []reasoning.Frame
}

// Server exposes review_run and review_trace tools over stdio.
type Server struct {
	mcpServer *mcpsdk.Server
	service   ReviewService
	scrubber  *redact.Scrubber
	token     config.Secret
	logger    *logging.Logger
}

// NewServer builds the stdio MCP server around a review service.
// githubToken authenticates pull request loads; scrubber may be a
// disabled pass-through but must not be nil.
func NewServer(service ReviewService, scrubber *redact.Scrubber, githubToken config.Secret, logger *logging.Logger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("mcp: review service is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("mcp: scrubber is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		mcpServer: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "reviewd",
			Version: "1.0.0",
		}, nil),
		service:  service,
		scrubber: scrubber,
		token:    githubToken,
		logger:   logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP over stdin/stdout until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp: server error: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "review_run",
		Description: "Run an unattended code review over a local repository commit range or a GitHub pull request. Returns the final report with verdict, findings, and evidence.",
	}, s.handleReviewRun)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "review_trace",
		Description: "Return the reasoning trace of the most recent review run: one frame per phase with goals, checks, risks, and the transition decision.",
	}, s.handleReviewTrace)
}

// ReviewRunParams selects the change to review. Set either path (local
// repository) or owner/repo/pull_number (GitHub pull request).
type ReviewRunParams struct {
	Path       string `json:"path,omitempty" jsonschema:"Local repository path"`
	BaseRef    string `json:"base_ref,omitempty" jsonschema:"Base revision (default HEAD~1)"`
	HeadRef    string `json:"head_ref,omitempty" jsonschema:"Head revision (default HEAD)"`
	Owner      string `json:"owner,omitempty" jsonschema:"GitHub repository owner"`
	Repo       string `json:"repo,omitempty" jsonschema:"GitHub repository name"`
	PullNumber int    `json:"pull_number,omitempty" jsonschema:"GitHub pull request number"`
}

// ReviewTraceParams defines parameters for review_trace (none needed).
type ReviewTraceParams struct{}

func (s *Server) handleReviewRun(ctx context.Context, req *mcpsdk.CallToolRequest, params *ReviewRunParams) (*mcpsdk.CallToolResult, any, error) {
	input, err := s.loadInput(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	report, err := s.service.Run(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("review run failed: %w", err)
	}
	report = s.scrubber.ScrubReport(report)

	s.logger.Info(ctx, "review run finished over mcp",
		zap.String("run_id", report.RunID),
		zap.String("decision", string(report.Decision)),
	)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode report: %w", err)
	}

	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{
				Text: fmt.Sprintf("Review %s: %s (%d findings)\n\n%s",
					report.RunID, report.Decision, len(report.Findings), data),
			},
		},
	}
	return result, report, nil
}

func (s *Server) handleReviewTrace(ctx context.Context, req *mcpsdk.CallToolRequest, params *ReviewTraceParams) (*mcpsdk.CallToolResult, any, error) {
	frames := s.service.Trace()
	if len(frames) == 0 {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.TextContent{Text: "No review run recorded yet."},
			},
		}, nil, nil
	}

	data, err := json.MarshalIndent(frames, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode trace: %w", err)
	}

	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{
				Text: fmt.Sprintf("Trace of last run (%d frames)\n\n%s", len(frames), data),
			},
		},
	}
	return result, frames, nil
}

func (s *Server) loadInput(ctx context.Context, params *ReviewRunParams) (*review.ReviewInput, error) {
	switch {
	case params.Path != "" && params.Owner != "":
		return nil, fmt.Errorf("set either path or owner/repo/pull_number, not both")
	case params.Path != "":
		return changeset.FromRepository(ctx, changeset.RepoOptions{
			Path:    params.Path,
			BaseRef: params.BaseRef,
			HeadRef: params.HeadRef,
		})
	case params.Owner != "" || params.Repo != "" || params.PullNumber != 0:
		return changeset.FromPullRequest(ctx, changeset.PROptions{
			Owner:  params.Owner,
			Repo:   params.Repo,
			Number: params.PullNumber,
			Token:  s.token,
		})
	default:
		return nil, fmt.Errorf("set path for a local repository or owner/repo/pull_number for a pull request")
	}
}
