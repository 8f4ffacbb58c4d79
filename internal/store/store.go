// Package store persists assembled reports keyed by their natural key.
// Saving is an upsert: re-extracting a visit replaces the earlier record
// as a whole.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/verdict"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("store: report not found")

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 100

// Entry is a stored report and its id.
type Entry struct {
	ID     string         `json:"id"`
	Report *schema.Report `json:"report"`
}

// Filter narrows List on the indexed columns. Zero fields match everything.
type Filter struct {
	Protocol       string
	Site           string
	RequiresReview *bool
}

// ListOptions pages through reports, newest extraction first.
type ListOptions struct {
	Limit  int
	Offset int
	Filter Filter
}

// Store is the report repository.
type Store interface {
	// Save upserts r under schema.NaturalKey(r) and returns that key.
	Save(ctx context.Context, r *schema.Report) (string, error)
	Get(ctx context.Context, id string) (*schema.Report, error)
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id string) (bool, error)
	// Search returns reports whose stored JSON contains q, case-insensitively.
	Search(ctx context.Context, q string, limit int) ([]Entry, error)
	Close() error
}

// Drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultSQLitePath is used when Config.Path is empty.
const DefaultSQLitePath = "./data/reports.db"

// Config selects and configures a Store.
type Config struct {
	Driver string
	// Path is the sqlite database file.
	Path string
	// DSN is the postgres connection string.
	DSN string
	// Grading computes the denormalized quality_grade column of the SQL
	// stores. It should match the options reports are validated with.
	Grading verdict.Options
}

// Open constructs the Store named by cfg.Driver. Empty means sqlite.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		s.grading = cfg.Grading
		return s, nil
	case DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s.grading = cfg.Grading
		return s, nil
	case DriverMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("store: unknown driver %q (available: memory, postgres, sqlite)", cfg.Driver)
}

func limitOf(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}

func encode(r *schema.Report) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("store: encode report: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*schema.Report, error) {
	var r schema.Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("store: decode report: %w", err)
	}
	return &r, nil
}

// All pages through s until every report matching f has been read.
func All(ctx context.Context, s Store, f Filter) ([]*schema.Report, error) {
	var out []*schema.Report
	for offset := 0; ; offset += DefaultListLimit {
		page, err := s.List(ctx, ListOptions{Limit: DefaultListLimit, Offset: offset, Filter: f})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			out = append(out, e.Report)
		}
		if len(page) < DefaultListLimit {
			return out, nil
		}
	}
}
