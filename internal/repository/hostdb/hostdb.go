// Package hostdb reads case, session and analysis data from the host
// application's SQLite database.
//
// The host application owns that file; this package opens it with
// query_only set and never writes to it.
//
// EXPECTED TABLES:
//
//	cases(id, name, email, color, description, created, last_change)
//	sessions(id, case_id, intention, description, created)
//	analysis(id, session_id, catalog_id, name, target_gv, note, created)
//	catalog(id, name, description, author, import_date)
//	rate(id, catalog_id, signature, description)
//	rate_analysis(id, analysis_id, catalog_id, signature, description,
//	              energetic_value, gv, level, potency_type, potency, note)
package hostdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sakif/keybridge/internal/model"
	"github.com/sakif/keybridge/internal/repository"
)

var _ repository.SessionDataProvider = (*Reader)(nil)

// Reader implements repository.SessionDataProvider.
type Reader struct {
	conn *sql.DB
}

// Open opens the host database read-only. The file must already exist.
func Open(ctx context.Context, path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("hostdb: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("hostdb: opening database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hostdb: pinging database: %w", err)
	}

	return &Reader{conn: conn}, nil
}

func (r *Reader) Ping(ctx context.Context) error {
	return r.conn.PingContext(ctx)
}

func (r *Reader) Close() error {
	return r.conn.Close()
}

// =========================================================================
// SESSIONS & CASES
// =========================================================================

const sessionColumns = `id, case_id, intention, description, created`

func (r *Reader) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	s, err := scanSession(r.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hostdb: getting session %d: %w", id, err)
	}
	return s, nil
}

func (r *Reader) ListAllSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("hostdb: listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("hostdb: scanning session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *Reader) GetCase(ctx context.Context, id int64) (*model.Case, error) {
	var (
		c                   model.Case
		created, lastChange any
	)
	err := r.conn.QueryRowContext(ctx,
		`SELECT id, name, email, color, description, created, last_change
		 FROM cases WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Color, &c.Description, &created, &lastChange)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hostdb: getting case %d: %w", id, err)
	}
	if c.Created, err = toTime(created); err != nil {
		return nil, fmt.Errorf("hostdb: case %d created: %w", id, err)
	}
	if c.LastChange, err = toTime(lastChange); err != nil {
		return nil, fmt.Errorf("hostdb: case %d last_change: %w", id, err)
	}
	return &c, nil
}

// =========================================================================
// ANALYSES, CATALOGS & RATES
// =========================================================================

func (r *Reader) ListAnalysesForSession(ctx context.Context, sessionID int64) ([]model.Analysis, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, session_id, catalog_id, name, target_gv, note, created
		 FROM analysis WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("hostdb: listing analyses for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	analyses := make([]model.Analysis, 0)
	for rows.Next() {
		var (
			a       model.Analysis
			created any
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.CatalogID, &a.Name, &a.TargetGV, &a.Note, &created); err != nil {
			return nil, fmt.Errorf("hostdb: scanning analysis: %w", err)
		}
		if a.Created, err = toTime(created); err != nil {
			return nil, fmt.Errorf("hostdb: analysis %d created: %w", a.ID, err)
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

func (r *Reader) GetCatalog(ctx context.Context, id int64) (*model.Catalog, error) {
	var (
		c        model.Catalog
		imported any
	)
	err := r.conn.QueryRowContext(ctx,
		`SELECT id, name, description, author, import_date FROM catalog WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Author, &imported)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hostdb: getting catalog %d: %w", id, err)
	}
	if c.ImportDate, err = toTime(imported); err != nil {
		return nil, fmt.Errorf("hostdb: catalog %d import_date: %w", id, err)
	}
	return &c, nil
}

func (r *Reader) ListRatesForCatalog(ctx context.Context, catalogID int64) ([]model.Rate, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, catalog_id, signature, description
		 FROM rate WHERE catalog_id = ? ORDER BY id`, catalogID)
	if err != nil {
		return nil, fmt.Errorf("hostdb: listing rates for catalog %d: %w", catalogID, err)
	}
	defer rows.Close()

	rates := make([]model.Rate, 0)
	for rows.Next() {
		var rt model.Rate
		if err := rows.Scan(&rt.ID, &rt.CatalogID, &rt.Signature, &rt.Description); err != nil {
			return nil, fmt.Errorf("hostdb: scanning rate: %w", err)
		}
		rates = append(rates, rt)
	}
	return rates, rows.Err()
}

func (r *Reader) ListRateAnalysisResults(ctx context.Context, analysisID int64) ([]model.RateAnalysis, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, analysis_id, catalog_id, signature, description,
		        energetic_value, gv, level, potency_type, potency, note
		 FROM rate_analysis WHERE analysis_id = ? ORDER BY id`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("hostdb: listing rate analysis for analysis %d: %w", analysisID, err)
	}
	defer rows.Close()

	results := make([]model.RateAnalysis, 0)
	for rows.Next() {
		var ra model.RateAnalysis
		if err := rows.Scan(
			&ra.ID, &ra.AnalysisID, &ra.CatalogID, &ra.Signature, &ra.Description,
			&ra.EnergeticValue, &ra.GV, &ra.Level, &ra.PotencyType, &ra.Potency, &ra.Note,
		); err != nil {
			return nil, fmt.Errorf("hostdb: scanning rate analysis: %w", err)
		}
		results = append(results, ra)
	}
	return results, rows.Err()
}

// =========================================================================
// HELPERS
// =========================================================================

func scanSession(rs interface{ Scan(...any) error }) (*model.Session, error) {
	var (
		s       model.Session
		created any
	)
	if err := rs.Scan(&s.ID, &s.CaseID, &s.Intention, &s.Description, &created); err != nil {
		return nil, err
	}
	t, err := toTime(created)
	if err != nil {
		return nil, err
	}
	s.Created = t
	return &s, nil
}

// timeLayouts are the text forms the host application has been seen to write.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// toTime converts a raw column value into a timestamp. The driver hands back
// time.Time for DATETIME/TIMESTAMP columns and strings for TEXT columns.
func toTime(v any) (*time.Time, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case int64:
		ts := time.Unix(t, 0).UTC()
		return &ts, nil
	default:
		return nil, fmt.Errorf("unsupported time value %T", v)
	}
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time %q", s)
}
