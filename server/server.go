// Package server exposes agent sessions over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/martinemde/agentcore/agentloop"
	"github.com/martinemde/agentcore/logging"
	"github.com/martinemde/agentcore/unifiedllm"
)

const (
	maxBodyBytes        = 1 << 20
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// SessionFactory builds the session for a new id.
type SessionFactory func(ctx context.Context, id string) (*agentloop.Session, error)

// Server serves the session API. Sessions are created on first use and run
// one Execute at a time.
type Server struct {
	app     *echo.Echo
	address string
	factory SessionFactory
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*agentloop.Session
}

// New builds a server listening on address.
func New(address string, factory SessionFactory, logger *slog.Logger) (*Server, error) {
	if factory == nil {
		return nil, errors.New("session factory must not be nil")
	}
	if logger == nil {
		logger = logging.Named("server")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	}))

	s := &Server{
		app:      e,
		address:  address,
		factory:  factory,
		logger:   logger,
		sessions: map[string]*agentloop.Session{},
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.app }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server", "addr", s.address)

	// No write timeout: a session may run for minutes.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/sessions/:id/messages", s.handleSend)
	s.app.GET("/v1/sessions/:id/messages", s.handleTranscript)
	s.app.DELETE("/v1/sessions/:id", s.handleDelete)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type sendRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleSend(c echo.Context) error {
	var req sendRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "prompt is required", Type: "invalid_request_error"}
	}

	ctx := c.Request().Context()
	session, err := s.session(ctx, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	result, err := session.Execute(ctx, req.Prompt)
	if err != nil {
		s.logger.Error("session failed", "session_id", session.ID(), "error", err)
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type transcriptResponse struct {
	SessionID string               `json:"session_id"`
	Messages  []unifiedllm.Message `json:"messages"`
}

func (s *Server) handleTranscript(c echo.Context) error {
	session := s.lookup(c.Param("id"))
	if session == nil {
		return requestError{Status: http.StatusNotFound, Message: "session not found", Type: "not_found"}
	}
	msgs, err := session.Messages(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, transcriptResponse{SessionID: session.ID(), Messages: msgs})
}

func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return requestError{Status: http.StatusNotFound, Message: "session not found", Type: "not_found"}
	}
	if err := session.Context().Clear(c.Request().Context()); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// session returns the session for id, creating it on first use.
func (s *Server) session(ctx context.Context, id string) (*agentloop.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		return session, nil
	}
	session, err := s.factory(ctx, id)
	if err != nil {
		return nil, err
	}
	s.sessions[id] = session
	return session, nil
}

func (s *Server) lookup(id string) *agentloop.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{Status: http.StatusBadRequest, Message: "request body is required", Type: "invalid_request_error"}
		}
		return requestError{Status: http.StatusBadRequest, Message: fmt.Sprintf("invalid JSON payload: %v", err), Type: "invalid_request_error"}
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{Status: http.StatusBadRequest, Message: "request body must contain a single JSON object", Type: "invalid_request_error"}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Type, e.Message)
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType string) error {
	var body errorBody
	body.Error.Message = message
	body.Error.Type = errType
	return c.JSON(status, body)
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type)
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error")
		return
	}
	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error")
}

// toHTTPError maps loop and provider failures onto status codes.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	var cfgErr *unifiedllm.ConfigurationError
	if errors.As(err, &cfgErr) {
		return requestError{Status: http.StatusServiceUnavailable, Message: err.Error(), Type: "configuration_error"}
	}
	if unifiedllm.IsRetryable(err) {
		return requestError{Status: http.StatusServiceUnavailable, Message: err.Error(), Type: "upstream_unavailable"}
	}
	return requestError{Status: http.StatusBadGateway, Message: err.Error(), Type: "upstream_error"}
}
