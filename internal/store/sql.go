package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/dshills/movreport/internal/schema"
	"github.com/dshills/movreport/internal/verdict"
)

// timestampLayout is fixed width so extraction timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type dialect struct {
	name     string
	driver   string
	ddl      []string
	likeOp   string
	numbered bool // $1, $2 placeholders
}

var (
	sqliteDialect = dialect{
		name:   DriverSQLite,
		driver: "sqlite",
		likeOp: "LIKE",
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS mov_reports (
				id TEXT PRIMARY KEY,
				protocol_number TEXT,
				site_number TEXT,
				visit_date TEXT,
				visit_type TEXT,
				overall_quality TEXT,
				quality_grade TEXT,
				completeness_score REAL,
				requires_review INTEGER NOT NULL DEFAULT 0,
				review_reason TEXT,
				extraction_timestamp TEXT,
				source_file TEXT,
				json_data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_mov_reports_site ON mov_reports (site_number)`,
			`CREATE INDEX IF NOT EXISTS idx_mov_reports_protocol ON mov_reports (protocol_number)`,
			`CREATE INDEX IF NOT EXISTS idx_mov_reports_visit_date ON mov_reports (visit_date)`,
		},
	}
	postgresDialect = dialect{
		name:     DriverPostgres,
		driver:   "pgx",
		likeOp:   "ILIKE",
		numbered: true,
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS mov_reports (
				id TEXT PRIMARY KEY,
				protocol_number TEXT,
				site_number TEXT,
				visit_date TEXT,
				visit_type TEXT,
				overall_quality TEXT,
				quality_grade TEXT,
				completeness_score DOUBLE PRECISION,
				requires_review BOOLEAN NOT NULL DEFAULT FALSE,
				review_reason TEXT,
				extraction_timestamp TEXT,
				source_file TEXT,
				json_data TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_mov_reports_site ON mov_reports (site_number)`,
			`CREATE INDEX IF NOT EXISTS idx_mov_reports_protocol ON mov_reports (protocol_number)`,
			`CREATE INDEX IF NOT EXISTS idx_mov_reports_visit_date ON mov_reports (visit_date)`,
		},
	}
)

// rebind rewrites ? placeholders as $n for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SQL is a Store on database/sql. Each report is one row: the full JSON
// document plus denormalized index columns.
type SQL struct {
	db      *sql.DB
	d       dialect
	grading verdict.Options
}

// OpenSQLite opens or creates the sqlite database at path, creating its
// directory.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("store: create dirs: %w", err)
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	return newSQL(ctx, db, sqliteDialect)
}

// OpenPostgres connects to dsn through the pgx driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres requires a dsn")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return newSQL(ctx, db, postgresDialect)
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	for _, stmt := range d.ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s ddl: %w", d.name, err)
		}
	}
	return &SQL{db: db, d: d}, nil
}

// DB exposes the underlying handle for tests.
func (s *SQL) DB() *sql.DB { return s.db }

const upsertSQL = `INSERT INTO mov_reports (
	id, protocol_number, site_number, visit_date, visit_type, overall_quality,
	quality_grade, completeness_score, requires_review, review_reason,
	extraction_timestamp, source_file, json_data
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	protocol_number = excluded.protocol_number,
	site_number = excluded.site_number,
	visit_date = excluded.visit_date,
	visit_type = excluded.visit_type,
	overall_quality = excluded.overall_quality,
	quality_grade = excluded.quality_grade,
	completeness_score = excluded.completeness_score,
	requires_review = excluded.requires_review,
	review_reason = excluded.review_reason,
	extraction_timestamp = excluded.extraction_timestamp,
	source_file = excluded.source_file,
	json_data = excluded.json_data`

func (s *SQL) Save(ctx context.Context, r *schema.Report) (string, error) {
	id := schema.NaturalKey(r)
	payload, err := encode(r)
	if err != nil {
		return "", err
	}
	grade := verdict.Validate(r, s.grading).Grade
	_, err = s.db.ExecContext(ctx, s.d.rebind(upsertSQL),
		id,
		r.ProtocolNumber,
		r.SiteInfo.SiteNumber,
		nullString(r.VisitStartDate),
		nullString(string(r.VisitType)),
		nullString(string(r.OverallSiteQuality)),
		string(grade),
		r.DataQuality.CompletenessScore,
		r.DataQuality.RequiresReview,
		nullString(r.DataQuality.ReviewReason),
		r.Extraction.Timestamp.UTC().Format(timestampLayout),
		r.Extraction.SourceFile,
		string(payload),
	)
	if err != nil {
		return "", fmt.Errorf("store: save %s: %w", id, err)
	}
	return id, nil
}

func (s *SQL) Get(ctx context.Context, id string) (*schema.Report, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT json_data FROM mov_reports WHERE id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return decode([]byte(payload))
}

func (s *SQL) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f := opts.Filter; f.Protocol != "" {
		where = append(where, "protocol_number = ?")
		args = append(args, f.Protocol)
	}
	if f := opts.Filter; f.Site != "" {
		where = append(where, "site_number = ?")
		args = append(args, f.Site)
	}
	if f := opts.Filter; f.RequiresReview != nil {
		where = append(where, "requires_review = ?")
		args = append(args, *f.RequiresReview)
	}
	q := `SELECT id, json_data FROM mov_reports`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY extraction_timestamp DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limitOf(opts.Limit), max(opts.Offset, 0))
	return s.query(ctx, q, args...)
}

func (s *SQL) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM mov_reports WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("store: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete %s: %w", id, err)
	}
	return n > 0, nil
}

// Search matches q literally: LIKE wildcards in q are escaped.
func (s *SQL) Search(ctx context.Context, q string, limit int) ([]Entry, error) {
	stmt := `SELECT id, json_data FROM mov_reports WHERE json_data ` + s.d.likeOp +
		` ? ESCAPE '\' ORDER BY extraction_timestamp DESC, id ASC LIMIT ?`
	return s.query(ctx, stmt, "%"+likeEscaper.Replace(q)+"%", limitOf(limit))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []Entry{}
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		r, err := decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("store: %s: %w", id, err)
		}
		out = append(out, Entry{ID: id, Report: r})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Compile-time contract assertions.
var (
	_ Store = (*SQL)(nil)
	_ Store = (*Memory)(nil)
)
