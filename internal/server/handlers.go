package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dshills/movreport/internal/analytics"
	"github.com/dshills/movreport/internal/docsource"
	"github.com/dshills/movreport/internal/extract"
	"github.com/dshills/movreport/internal/ingest"
	"github.com/dshills/movreport/internal/pipeline"
	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/store"
	"github.com/dshills/movreport/internal/verdict"
)

type uploadResponse struct {
	Success        bool            `json:"success"`
	ReportID       string          `json:"report_id,omitempty"`
	Quality        *verdict.Result `json:"quality,omitempty"`
	Questions      int             `json:"questions,omitempty"`
	ActionItems    int             `json:"action_items,omitempty"`
	SiteQuality    string          `json:"overall_site_quality,omitempty"`
	Failures       []string        `json:"failures,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Error          string          `json:"error,omitempty"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
}

func (s *Server) upload(c echo.Context) error {
	start := time.Now()
	fail := func(code int, err error) error {
		s.log.Warn().Err(err).Int("status", code).Msg("upload failed")
		return c.JSON(code, uploadResponse{Error: err.Error(), ElapsedSeconds: seconds(time.Since(start))})
	}

	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, s.opts.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			return fail(http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.opts.MaxUploadBytes))
		}
		return fail(http.StatusBadRequest, fmt.Errorf("missing multipart field %q: %w", "file", err))
	}
	name := filepath.Base(fh.Filename)
	if !docsource.Supported(name) {
		return fail(http.StatusBadRequest, fmt.Errorf("unsupported file type %q (accepted: %s)",
			filepath.Ext(name), strings.Join(docsource.Extensions(), ", ")))
	}

	dir, err := os.MkdirTemp("", "movreport-upload-*")
	if err != nil {
		return fail(http.StatusInternalServerError, err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, name)
	if err := saveUpload(fh, path); err != nil {
		return fail(http.StatusBadRequest, err)
	}

	s.log.Info().Str("file", name).Int64("bytes", fh.Size).Msg("upload received")
	res, err := s.ingest.Ingest(req.Context(), ingest.Request{
		Path:       path,
		SourceName: name,
		ArchiveKey: "uploads/" + uuid.NewString() + "/" + name,
		Save:       true,
	})
	if err != nil {
		return fail(statusFor(err), err)
	}

	failures := make([]string, len(res.Failures))
	for i, f := range res.Failures {
		failures[i] = f.Error()
	}
	return c.JSON(http.StatusOK, uploadResponse{
		Success:        true,
		ReportID:       res.ID,
		Quality:        &res.Quality,
		Questions:      len(res.Report.QuestionResponses),
		ActionItems:    len(res.Report.ActionItems),
		SiteQuality:    string(res.Report.OverallSiteQuality),
		Failures:       failures,
		Warnings:       res.Warnings,
		ElapsedSeconds: seconds(time.Since(start)),
	})
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("stage upload: %w", err)
	}
	return dst.Close()
}

// statusFor maps an ingest failure to an HTTP status.
func statusFor(err error) int {
	var docErr ingest.DocumentError
	var stErr ingest.StoreError
	switch {
	case errors.As(err, &docErr):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrHeaderUnparsable), errors.Is(err, pipeline.ErrMandatoryFields):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stErr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// reportRow is the list view of a stored report.
type reportRow struct {
	ID               string `json:"id"`
	ProtocolNumber   string `json:"protocol_number"`
	SiteNumber       string `json:"site_number"`
	Country          string `json:"country"`
	Institution      string `json:"institution"`
	VisitStartDate   string `json:"visit_start_date,omitempty"`
	VisitEndDate     string `json:"visit_end_date,omitempty"`
	VisitType        string `json:"visit_type,omitempty"`
	Quality          string `json:"quality,omitempty"`
	QuestionsCount   int    `json:"questions_count"`
	ActionItemsCount int    `json:"action_items_count"`
	RequiresReview   bool   `json:"requires_review"`
}

func rows(entries []store.Entry) []reportRow {
	out := make([]reportRow, len(entries))
	for i, e := range entries {
		r := e.Report
		out[i] = reportRow{
			ID:               e.ID,
			ProtocolNumber:   r.ProtocolNumber,
			SiteNumber:       r.SiteInfo.SiteNumber,
			Country:          r.SiteInfo.Country,
			Institution:      r.SiteInfo.Institution,
			VisitStartDate:   r.VisitStartDate,
			VisitEndDate:     r.VisitEndDate,
			VisitType:        string(r.VisitType),
			Quality:          string(r.OverallSiteQuality),
			QuestionsCount:   len(r.QuestionResponses),
			ActionItemsCount: len(r.ActionItems),
			RequiresReview:   r.DataQuality.RequiresReview,
		}
	}
	return out
}

func (s *Server) listReports(c echo.Context) error {
	limit, err := intParam(c, "limit", store.DefaultListLimit, 1, 1000)
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		return err
	}
	f := store.Filter{Protocol: c.QueryParam("protocol"), Site: c.QueryParam("site_number")}
	if v := c.QueryParam("requires_review"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("requires_review: %q is not a boolean", v))
		}
		f.RequiresReview = &b
	}
	entries, err := s.store.List(c.Request().Context(), store.ListOptions{Limit: limit, Offset: offset, Filter: f})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"reports": rows(entries), "total": len(entries)})
}

func (s *Server) searchReports(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit, err := intParam(c, "limit", store.DefaultListLimit, 1, 1000)
	if err != nil {
		return err
	}
	entries, err := s.store.Search(c.Request().Context(), q, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"reports": rows(entries), "total": len(entries)})
}

func (s *Server) getReport(c echo.Context) error {
	id := c.Param("id")
	r, err := s.store.Get(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Report not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id,
		"report":  r,
		"quality": verdict.Validate(r, s.opts.Validate),
	})
}

func (s *Server) deleteReport(c echo.Context) error {
	id := c.Param("id")
	ok, err := s.store.Delete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Report not found")
	}
	s.log.Info().Str("report_id", id).Msg("report deleted")
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": fmt.Sprintf("Report %s deleted", id)})
}

// filtered loads every stored report passing the analytics query filters.
func (s *Server) filtered(c echo.Context) ([]*schema.Report, error) {
	f, err := analytics.NewFilter(
		c.QueryParam("date_from"), c.QueryParam("date_to"),
		c.QueryParam("protocol"), c.QueryParam("site_number"),
		c.QueryParam("country"), c.QueryParam("visit_type"),
	)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	all, err := store.All(c.Request().Context(), s.store, store.Filter{Protocol: f.Protocol, Site: f.Site})
	if err != nil {
		return nil, err
	}
	return f.Apply(all), nil
}

func (s *Server) kpi(c echo.Context) error {
	reports, err := s.filtered(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, analytics.KPIs(reports, s.opts.Now()))
}

func (s *Server) trends(c echo.Context) error {
	g, err := analytics.ParseGranularity(c.QueryParam("granularity"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reports, err := s.filtered(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"trends": orEmpty(analytics.ComplianceTrends(reports, g))})
}

func (s *Server) questions(c echo.Context) error {
	reports, err := s.filtered(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"questions": orEmpty(analytics.QuestionStats(reports))})
}

func (s *Server) leaderboard(c echo.Context) error {
	limit, err := intParam(c, "limit", 100, 1, 1000)
	if err != nil {
		return err
	}
	reports, err := s.filtered(c)
	if err != nil {
		return err
	}
	sites, err := analytics.SiteLeaderboard(reports, c.QueryParam("sort_by"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"sites": orEmpty(sites)})
}

func (s *Server) geographic(c echo.Context) error {
	reports, err := s.filtered(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"countries": orEmpty(analytics.GeographicSummary(reports))})
}

// intParam reads an optional integer query parameter bounded to [lo, hi].
func intParam(c echo.Context, name string, def, lo, hi int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be an integer in [%d, %d]", name, lo, hi))
	}
	return n, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
