// Package ingest runs one source document through text extraction, the
// extraction pipeline, validation and persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/movreport/internal/archive"
	"github.com/dshills/movreport/internal/docsource"
	"github.com/dshills/movreport/internal/pipeline"
	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/store"
	"github.com/dshills/movreport/internal/verdict"
)

// ErrEmptyDocument is returned when a document yields no text.
var ErrEmptyDocument = errors.New("ingest: document has no extractable text")

// Orchestrator is satisfied by *pipeline.Orchestrator.
type Orchestrator interface {
	Extract(ctx context.Context, doc pipeline.Document) (*pipeline.Outcome, error)
}

// DocumentError wraps a failure to read text from the source document.
type DocumentError struct{ Err error }

func (e DocumentError) Error() string { return "ingest: document: " + e.Err.Error() }
func (e DocumentError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure so callers can tell it apart from
// extraction failures.
type StoreError struct{ Err error }

func (e StoreError) Error() string { return "ingest: save: " + e.Err.Error() }
func (e StoreError) Unwrap() error { return e.Err }

// Service wires the stages together. Store and Archive may be nil.
type Service struct {
	Orchestrator Orchestrator
	Store        store.Store
	Archive      archive.Archive
	Log          zerolog.Logger
	Validate     verdict.Options
}

// Request describes one document to ingest.
type Request struct {
	Path string
	// SourceName is recorded as the report's source file. Defaults to the
	// base name of Path.
	SourceName string
	// ArchiveKey stores the original document under this key when an
	// archive is configured. Empty skips archiving.
	ArchiveKey string
	Save       bool
}

// Result is one ingested document.
type Result struct {
	ID       string                  `json:"report_id"`
	Saved    bool                    `json:"saved"`
	Report   *schema.Report          `json:"-"`
	Quality  verdict.Result          `json:"quality"`
	Failures []pipeline.SubtaskError `json:"failures"`
	Warnings []string                `json:"warnings"`
	Location string                  `json:"archive_location,omitempty"`
	Elapsed  time.Duration           `json:"-"`
}

// Ingest processes req. Unreadable documents fail with DocumentError and
// persistence failures with StoreError; pipeline errors are returned as is.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	name := req.SourceName
	if name == "" {
		name = filepath.Base(req.Path)
	}
	log := s.Log.With().Str("source_file", name).Logger()

	res := &Result{}
	if s.Archive != nil && req.ArchiveKey != "" {
		loc, err := s.archive(ctx, req.Path, req.ArchiveKey)
		if err != nil {
			return nil, err
		}
		res.Location = loc
		if loc != "" {
			log.Info().Str("location", loc).Msg("document archived")
		}
	}

	text, err := docsource.ExtractText(ctx, req.Path)
	if err != nil {
		return nil, DocumentError{Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, DocumentError{Err: fmt.Errorf("%w: %s", ErrEmptyDocument, name)}
	}
	log.Debug().Int("chars", len(text)).Msg("document text extracted")

	out, err := s.Orchestrator.Extract(ctx, pipeline.Document{Text: text, SourceFile: name})
	if err != nil {
		return nil, err
	}
	res.Report = out.Report
	res.Failures = out.Failures
	res.Warnings = out.Warnings
	res.Quality = verdict.Validate(out.Report, s.Validate)
	res.ID = schema.NaturalKey(out.Report)

	if req.Save && s.Store != nil {
		id, err := s.Store.Save(ctx, out.Report)
		if err != nil {
			return nil, StoreError{Err: err}
		}
		res.ID = id
		res.Saved = true
		log.Info().Str("report_id", id).Msg("report saved")
	}
	if res.Failures == nil {
		res.Failures = []pipeline.SubtaskError{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (s *Service) archive(ctx context.Context, path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", DocumentError{Err: err}
	}
	defer f.Close()
	loc, err := s.Archive.Put(ctx, key, f)
	if err != nil {
		return "", fmt.Errorf("ingest: archive: %w", err)
	}
	return loc, nil
}
