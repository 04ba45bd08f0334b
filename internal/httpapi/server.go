// Package httpapi serves a read-only HTTP view of completed runs: summaries,
// per-run detail, traces, and raw artifacts. It never mutates run state; the
// engine owns all writes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
	"github.com/fyrsmithlabs/patchsmith/internal/logging"
)

// Server exposes the artifact store over HTTP.
type Server struct {
	echo  *echo.Echo
	store *artifact.Store
	log   *logging.Logger
	addr  string
}

// artifactNamePattern rejects traversal attempts in the artifact route.
var artifactNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// NewServer builds the server over an existing store.
func NewServer(store *artifact.Store, addr string, log *logging.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if log == nil {
		log = logging.Nop()
	}
	if addr == "" {
		addr = "localhost:9090"
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
			log.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
			return err
		}
	})

	s := &Server{echo: e, store: store, log: log, addr: addr}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	// The default registry carries the pipeline instruments via the
	// telemetry package's prometheus reader, plus Go runtime collectors.
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/trace", s.handleGetTrace)
	v1.GET("/runs/:id/artifacts/:name", s.handleGetArtifact)
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListRuns(c echo.Context) error {
	summaries, err := s.store.Summarize()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	return c.JSON(http.StatusOK, summaries)
}

func (s *Server) handleGetRun(c echo.Context) error {
	runDir, err := s.store.RunDir(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	rc, err := artifact.LoadContext(runDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound, "run has no recorded context")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run")
	}
	return c.JSON(http.StatusOK, rc)
}

func (s *Server) handleGetTrace(c echo.Context) error {
	runDir, err := s.store.RunDir(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	events, err := artifact.ReadTrace(runDir)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read trace")
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleGetArtifact(c echo.Context) error {
	name := c.Param("name")
	if !artifactNamePattern.MatchString(name) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid artifact name")
	}
	runDir, err := s.store.RunDir(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	data, err := os.ReadFile(filepath.Join(runDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read artifact")
	}
	return c.Blob(http.StatusOK, contentType(name), data)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return echo.MIMEApplicationJSON
	case strings.HasSuffix(name, ".md"):
		return "text/markdown"
	default:
		return echo.MIMETextPlain
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "starting results server", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
