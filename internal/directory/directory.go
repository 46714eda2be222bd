package directory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Instrument is one row of the code directory.
type Instrument struct {
	Code     string `json:"stock_code"`
	Name     string `json:"stock_name"`
	Market   string `json:"market"`
	FullCode string `json:"stock_fullcode,omitempty"`
	Source   string `json:"data_source,omitempty"`
}

// Store maps free-text queries to canonical instrument codes. Backed by an
// embedded sqlite database so the service needs no external server.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = "data/stockfeed.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			market TEXT NOT NULL,
			full_code TEXT,
			source TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (code, market)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_instruments_name ON instruments(name);`,
		`CREATE TABLE IF NOT EXISTS aliases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alias TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_aliases_name ON aliases(name);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// UpsertInstruments inserts the batch inside one transaction, skipping rows
// whose (code, market) already exists. Returns the number actually inserted.
func (s *Store) UpsertInstruments(ctx context.Context, batch []Instrument) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO instruments (code, name, market, full_code, source) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, in := range batch {
		res, err := stmt.ExecContext(ctx, in.Code, in.Name, in.Market, in.FullCode, in.Source)
		if err != nil {
			return inserted, fmt.Errorf("insert %s/%s: %w", in.Code, in.Market, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// AddAlias registers a free-text alias for a canonical instrument name,
// skipping duplicates.
func (s *Store) AddAlias(ctx context.Context, alias, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO aliases (alias, name) VALUES (?, ?)`, alias, name)
	return err
}

// Search resolves q to matching instruments within one market. Precedence:
// exact code (raw and zero-padded) for all-digit queries, then substring name
// match, then a substring match against registered aliases expanded back to
// names.
func (s *Store) Search(ctx context.Context, mkt, q string, limit int) ([]Instrument, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	if isDigits(q) {
		rows, err := s.queryInstruments(ctx,
			`SELECT code, name, market, COALESCE(full_code,''), COALESCE(source,'')
			 FROM instruments WHERE market = ? AND (code = ? OR code = ?) LIMIT ?`,
			mkt, q, zeroPad(q, 5), limit)
		if err != nil || len(rows) > 0 {
			return rows, err
		}
	}

	rows, err := s.queryInstruments(ctx,
		`SELECT code, name, market, COALESCE(full_code,''), COALESCE(source,'')
		 FROM instruments WHERE market = ? AND name LIKE ? LIMIT ?`,
		mkt, "%"+q+"%", limit)
	if err != nil || len(rows) > 0 {
		return rows, err
	}

	names, err := s.aliasTargets(ctx, q, limit)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	conds := make([]string, 0, len(names))
	args := []any{mkt}
	for _, n := range names {
		conds = append(conds, "name LIKE ?")
		args = append(args, "%"+n+"%")
	}
	args = append(args, limit)
	return s.queryInstruments(ctx,
		`SELECT code, name, market, COALESCE(full_code,''), COALESCE(source,'')
		 FROM instruments WHERE market = ? AND (`+strings.Join(conds, " OR ")+`) LIMIT ?`,
		args...)
}

func (s *Store) aliasTargets(ctx context.Context, q string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM aliases WHERE alias LIKE ? LIMIT ?`, "%"+q+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name != "" {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

func (s *Store) queryInstruments(ctx context.Context, query string, args ...any) ([]Instrument, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Instrument
	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.Code, &in.Name, &in.Market, &in.FullCode, &in.Source); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func zeroPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
