// Package server is the HTTP transport for the gateway. It parses
// requests, hands them to the job service and serializes results; all
// policy decisions live below it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sevenzd/sevenzd/internal/app/job"
	"github.com/sevenzd/sevenzd/internal/auth"
	"github.com/sevenzd/sevenzd/internal/log"
	"github.com/sevenzd/sevenzd/internal/model"
	"github.com/sevenzd/sevenzd/internal/pathsafe"
)

// Config is the configuration for the HTTP server.
type Config struct {
	JobService    *job.Service
	Authenticator auth.Authenticator
	Resolver      pathsafe.Resolver
	// TokenHint is shown on /health (last characters only).
	TokenHint string
	Logger    log.Logger
}

func (c *Config) defaults() error {
	if c.JobService == nil {
		return fmt.Errorf("job service is required")
	}
	if c.Authenticator == nil {
		return fmt.Errorf("authenticator is required")
	}
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "server.HTTP"})
	return nil
}

// Server serves the gateway HTTP API.
type Server struct {
	jobService    *job.Service
	authenticator auth.Authenticator
	resolver      pathsafe.Resolver
	tokenHint     string
	logger        log.Logger
	engine        *gin.Engine
}

// New creates a new HTTP server.
func New(cfg Config) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		jobService:    cfg.JobService,
		authenticator: cfg.Authenticator,
		resolver:      cfg.Resolver,
		tokenHint:     cfg.TokenHint,
		logger:        cfg.Logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)
	engine.POST("/v1/jobs", s.handleJob)
	engine.GET("/v1/files/*path", s.handleDownload)

	s.engine = engine

	return s, nil
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves the API on addr until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Infof("HTTP API listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type jobRequest struct {
	Operation  string            `json:"operation" binding:"required"`
	SourcePath string            `json:"source_path" binding:"required"`
	DestPath   string            `json:"dest_path"`
	Options    map[string]string `json:"options"`
}

type jobResponse struct {
	JobID      string   `json:"job_id,omitempty"`
	Success    bool     `json:"success"`
	Message    string   `json:"message,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	ExitCode   *int     `json:"exit_code,omitempty"`
	OutputPath string   `json:"output_path,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	TimedOut   bool     `json:"timed_out,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	Entries    []string `json:"entries,omitempty"`
}

func (s *Server) handleJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jobResponse{
			Success: false,
			Kind:    model.ErrorKind(model.ErrNotValid),
			Message: "invalid request body",
		})
		return
	}

	result, err := s.jobService.Run(c.Request.Context(), job.Request{
		Token:      bearerToken(c),
		Operation:  req.Operation,
		SourcePath: req.SourcePath,
		DestPath:   req.DestPath,
		Options:    req.Options,
	})
	if err != nil {
		s.writeJobError(c, result, err)
		return
	}

	resp := jobResponse{
		JobID:      result.JobID,
		Success:    true,
		Message:    result.Message,
		OutputPath: result.OutputPath.Rel(),
		Entries:    result.Entries,
	}
	if result.Outcome != nil {
		resp.ExitCode = &result.Outcome.ExitCode
		resp.DurationMs = result.Outcome.Duration.Milliseconds()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) writeJobError(c *gin.Context, result *model.JobResult, err error) {
	resp := jobResponse{
		Success: false,
		Kind:    model.ErrorKind(err),
		Message: err.Error(),
	}
	if result != nil && result.Outcome != nil {
		resp.JobID = result.JobID
		resp.ExitCode = &result.Outcome.ExitCode
		resp.DurationMs = result.Outcome.Duration.Milliseconds()
		resp.TimedOut = result.Outcome.TimedOut
		resp.Stderr = string(result.Outcome.Stderr)
	}

	c.JSON(statusForError(err), resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	inRoot, err := s.resolver.ResolveRoot(model.RootInput)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}
	outRoot, err := s.resolver.ResolveRoot(model.RootOutput)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"input_root":        inRoot.Absolute,
		"output_root":       outRoot.Absolute,
		"last_token_digits": s.tokenHint,
	})
}

// handleDownload serves a produced artifact from the output root. The
// path goes through the same confinement as every other caller path.
func (s *Server) handleDownload(c *gin.Context) {
	if !s.authenticator.Authenticate(bearerToken(c)) {
		c.JSON(http.StatusUnauthorized, jobResponse{
			Success: false,
			Kind:    model.ErrorKind(model.ErrAuthFailure),
			Message: "unauthorized",
		})
		return
	}

	raw := strings.TrimPrefix(c.Param("path"), "/")
	cp, err := s.resolver.Resolve(raw, model.RootOutput)
	if err != nil {
		c.JSON(statusForError(err), jobResponse{
			Success: false,
			Kind:    model.ErrorKind(err),
			Message: err.Error(),
		})
		return
	}

	info, err := os.Stat(cp.Absolute)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, jobResponse{
			Success: false,
			Kind:    model.ErrorKind(model.ErrPathNotFound),
			Message: fmt.Sprintf("no file at %s", cp.Rel()),
		})
		return
	}

	c.FileAttachment(cp.Absolute, info.Name())
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPathUnreadable):
		return http.StatusForbidden
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrBackpressure):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrProcessTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrPathEscape),
		errors.Is(err, model.ErrUnsupportedOption),
		errors.Is(err, model.ErrNotValid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
