// Package server provides the reviewd HTTP daemon.
//
// The daemon exposes a health endpoint and a synchronous review
// endpoint backed by the orchestrator, with graceful context-aware
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/redact"
	"github.com/fyrsmithlabs/reviewd/internal/review"
)

// ReviewService is the part of review.Runner the daemon uses.
type ReviewService interface {
	Run(ctx context.Context, input *review.ReviewInput) (*review.FinalReport, error)
}

// Server is the HTTP daemon.
type Server struct {
	cfg      config.ServerConfig
	echo     *echo.Echo
	service  ReviewService
	scrubber *redact.Scrubber
	logger   *logging.Logger
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the daemon. scrubber may be a disabled pass-through
// but must not be nil; reports are scrubbed before leaving the process.
func NewServer(cfg config.ServerConfig, service ReviewService, scrubber *redact.Scrubber, logger *logging.Logger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("server: review service is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("server: scrubber is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:      cfg,
		echo:     e,
		service:  service,
		scrubber: scrubber,
		logger:   logger.Named("server"),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/v1/reviews", s.handleCreateReview)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "reviewd"})
}

// handleCreateReview runs a review synchronously and returns the final
// report. The orchestrator contains policy failures inside the report,
// so a 5xx here means the runner itself was misused or shut down.
func (s *Server) handleCreateReview(c echo.Context) error {
	var input review.ReviewInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if input.Diff == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "diff is required"})
	}

	report, err := s.service.Run(c.Request().Context(), &input)
	if err != nil {
		s.logger.Error(c.Request().Context(), "review run rejected", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, s.scrubber.ScrubReport(report))
}

// Start runs the server and blocks until ctx is cancelled. Returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying router for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
