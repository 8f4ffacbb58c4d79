// Package server is the HTTP surface: report upload, report browsing and
// analytics over stored reports.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/dshills/movreport/internal/ingest"
	"github.com/dshills/movreport/internal/metrics"
	"github.com/dshills/movreport/internal/store"
	"github.com/dshills/movreport/internal/verdict"
)

// DefaultMaxUploadBytes bounds an upload when Options.MaxUploadBytes is zero.
const DefaultMaxUploadBytes = 50 << 20

// Ingester is satisfied by *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// Options configures a Server. Metrics may be nil.
type Options struct {
	MaxUploadBytes int64
	Metrics        *metrics.Recorder
	// Validate configures the quality result returned with a report.
	Validate verdict.Options
	// Now is replaced in tests.
	Now func() time.Time
}

// Server owns the echo instance and its dependencies.
type Server struct {
	e      *echo.Echo
	ingest Ingester
	store  store.Store
	log    zerolog.Logger
	opts   Options
}

// New builds the router.
func New(in Ingester, st store.Store, log zerolog.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{e: echo.New(), ingest: in, store: st, log: log, opts: opts}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.errorHandler

	s.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) { c.Set("request_id", id) },
	}))
	s.e.Use(s.requestLog)
	s.e.Use(s.recovery)

	s.e.GET("/health", s.health)
	s.e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))

	api := s.e.Group("/api")
	api.POST("/reports/upload", s.upload)
	api.GET("/reports", s.listReports)
	api.GET("/reports/search", s.searchReports)
	api.GET("/reports/:id", s.getReport)
	api.DELETE("/reports/:id", s.deleteReport)

	api.GET("/analytics/kpi", s.kpi)
	api.GET("/analytics/compliance/trends", s.trends)
	api.GET("/analytics/compliance/questions", s.questions)
	api.GET("/analytics/sites/leaderboard", s.leaderboard)
	api.GET("/analytics/geographic", s.geographic)
	return s
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("server listening")
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.log.Info().Msg("server stopped")
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "message": "Healthy"})
}

// errorHandler renders every error as {"error": "..."}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	} else {
		s.log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
	}
	if err := c.JSON(code, map[string]string{"error": msg}); err != nil {
		s.log.Error().Err(err).Msg("write error response")
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		rid, _ := c.Get("request_id").(string)

		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status

		evt := s.log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			evt = s.log.Error().Err(err)
		case err != nil:
			evt = s.log.Warn().Err(err)
		}
		evt.
			Str("request_id", rid).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("remote_ip", c.RealIP()).
			Msg("request")

		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.opts.Metrics.Request(route, status)
		return nil
	}
}

func (s *Server) recovery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				s.log.Error().
					Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(stack[:n])).
					Msg("panic recovered")
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}
		}()
		return next(c)
	}
}
