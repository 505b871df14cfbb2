// Package server provides the HTTP control and streaming surface of
// draftmesh. It is a thin layer over engine.Engine; authentication is left to
// a fronting proxy.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/draftmesh/core"
	"github.com/hupe1980/draftmesh/engine"
	"github.com/hupe1980/draftmesh/logging"
	"github.com/hupe1980/draftmesh/model"
	"github.com/hupe1980/draftmesh/stream"
)

// Options configures a Server.
type Options struct {
	Addr string

	// HeartbeatInterval is the idle time after which SSE streams receive a
	// comment frame.
	HeartbeatInterval time.Duration

	Logger logging.Logger

	// Gatherer backs the metrics endpoint; nil disables it.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Health reports provider health, usually (*model.Gateway).Health.
	Health func() []model.ProviderHealth
}

// Server provides HTTP endpoints for an engine.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	opts   Options
}

// New creates a server for eng and registers its routes.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:              ":8080",
		HeartbeatInterval: 15 * time.Second,
		Logger:            logging.NoOpLogger{},
		MetricsPath:       "/metrics",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			opts.Logger.Debug("http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)

			return err
		}
	})

	s := &Server{echo: e, engine: eng, opts: opts}
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	if s.opts.Gatherer != nil {
		s.echo.GET(s.opts.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")

	v1.POST("/sessions", s.handleCreate)
	v1.GET("/sessions", s.handleList)
	v1.GET("/sessions/:id", s.handleGet)
	v1.POST("/sessions/:id/start", s.handleStart)
	v1.POST("/sessions/:id/stream", s.handleStartStream)
	v1.GET("/sessions/:id/events", s.handleEvents)
	v1.POST("/sessions/:id/pause", s.handlePause)
	v1.POST("/sessions/:id/resume", s.handleResume)
	v1.POST("/sessions/:id/stop", s.handleStop)
	v1.POST("/sessions/:id/reset", s.handleReset)

	v1.POST("/credits/estimate", s.handleEstimate)
	v1.GET("/providers/health", s.handleProviderHealth)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.opts.Logger.Info("starting http server", "addr", s.opts.Addr)

	if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the server. Running sessions are not
// affected; stop them through the engine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opts.Logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ListResponse is the response body for GET /api/v1/sessions.
type ListResponse struct {
	Sessions []core.SessionState `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreate(c echo.Context) error {
	var cfg core.SessionConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	st, err := s.engine.Create(c.Request().Context(), cfg)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusCreated, st)
}

func (s *Server) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, ListResponse{Sessions: s.engine.List(c.QueryParam("user_id"))})
}

func (s *Server) handleGet(c echo.Context) error {
	st, err := s.engine.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleStart(c echo.Context) error {
	st, err := s.engine.Launch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusAccepted, st)
}

func (s *Server) handleStartStream(c echo.Context) error {
	ctx := c.Request().Context()

	sub, err := s.engine.StartStreaming(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return s.pump(c, sub)
}

// handleEvents attaches to a session's stream. Events after the sequence
// number in Last-Event-ID (or the after query parameter) are replayed first.
func (s *Server) handleEvents(c echo.Context) error {
	after, err := lastEventID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	sub, err := s.engine.Subscribe(c.Request().Context(), c.Param("id"), after)
	if err != nil {
		return s.fail(c, err)
	}

	return s.pump(c, sub)
}

func (s *Server) pump(c echo.Context, sub *stream.Subscription) error {
	defer sub.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	if err := stream.Pump(c.Request().Context(), res, res.Flush, sub, s.opts.HeartbeatInterval); err != nil {
		s.opts.Logger.Warn("event stream ended with error", "session_id", c.Param("id"), "error", err)
	}

	return nil
}

func lastEventID(c echo.Context) (int64, error) {
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("after")
	}

	if raw == "" {
		return 0, nil
	}

	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, errors.New("invalid event id")
	}

	return after, nil
}

func (s *Server) handlePause(c echo.Context) error {
	return s.control(c, s.engine.Pause)
}

func (s *Server) handleResume(c echo.Context) error {
	return s.control(c, s.engine.Resume)
}

func (s *Server) handleStop(c echo.Context) error {
	return s.control(c, s.engine.Stop)
}

func (s *Server) control(c echo.Context, op func(ctx context.Context, id string) error) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := op(ctx, id); err != nil {
		return s.fail(c, err)
	}

	st, err := s.engine.Get(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleReset(c echo.Context) error {
	st, err := s.engine.Reset(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleEstimate(c echo.Context) error {
	var cfg core.SessionConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	est, err := s.engine.Estimate(c.Request().Context(), cfg)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, est)
}

func (s *Server) handleProviderHealth(c echo.Context) error {
	health := []model.ProviderHealth{}
	if s.opts.Health != nil {
		health = append(health, s.opts.Health()...)
	}

	return c.JSON(http.StatusOK, health)
}

// fail maps engine errors to status codes.
func (s *Server) fail(c echo.Context, err error) error {
	var (
		status = http.StatusInternalServerError
		body   = ErrorResponse{Error: err.Error()}
		ve     *core.ValidationError
	)

	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		body.Field = ve.Field
	case errors.Is(err, core.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, core.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrSessionRunning),
		errors.Is(err, core.ErrSessionNotRunning),
		errors.Is(err, core.ErrSessionFinished),
		errors.Is(err, core.ErrSessionExists),
		errors.Is(err, stream.ErrConsumerAttached):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.opts.Logger.Error("request failed", "path", c.Path(), "error", err)
	}

	return c.JSON(status, body)
}
