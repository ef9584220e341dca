// Package dashboard serves a read-only HTTP view of the pipeline status.
package dashboard

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/jobs"
)

//go:embed index.html
var indexHTML []byte

const shutdownTimeout = 5 * time.Second

// StatusSource reads the persisted status record.
type StatusSource interface {
	Read() (domain.StatusRecord, error)
}

// EventSource returns buffered progress events after a sequence number.
type EventSource interface {
	Since(seq int64) []jobs.Event
}

// Server is the dashboard HTTP server.
type Server struct {
	addr   string
	echo   *echo.Echo
	status StatusSource
	events EventSource
	logger *slog.Logger
}

// New builds the server. An empty addr disables listening; Handler still works.
func New(addr string, status StatusSource, events EventSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		addr:   addr,
		echo:   echo.New(),
		status: status,
		events: events,
		logger: logger.With("component", "dashboard"),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(s.logRequests)

	s.echo.GET("/", s.handleIndex)
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/events", s.handleEvents)
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens until ctx is done, then shuts down gracefully. A listen failure
// is logged and Run waits for ctx, leaving the pipeline running.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" {
		s.logger.Info("dashboard disabled")
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.addr)
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard unavailable", "addr", s.addr, "error", err)
		}
		<-ctx.Done()
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexHTML)
}

func (s *Server) handleStatus(c echo.Context) error {
	record, err := s.status.Read()
	if err != nil {
		s.logger.Warn("read status failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "status unavailable")
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) handleEvents(c echo.Context) error {
	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be a non-negative integer")
		}
		since = parsed
	}
	events := s.events.Since(since)
	if events == nil {
		events = []jobs.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Debug("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"elapsed", time.Since(started),
		)
		return nil
	}
}
