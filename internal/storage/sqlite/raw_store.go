// Package sqlite keeps the raw capture log of crawled pages in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/missilery-catalog/internal/crawler"
)

// schemaVersion is stored in PRAGMA user_version. Version 0 kept fetched_at
// as RFC 3339 text, which does not sort chronologically once fractional
// seconds are trimmed; version 1 stores unix nanoseconds.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS raw_pages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT    NOT NULL,
	url          TEXT    NOT NULL,
	kind         TEXT    NOT NULL,
	page_number  INTEGER NOT NULL DEFAULT 0,
	fetched_at   INTEGER NOT NULL,
	status_code  INTEGER NOT NULL,
	content_hash TEXT    NOT NULL DEFAULT '',
	content      BLOB    NOT NULL,
	UNIQUE (run_id, url)
);
CREATE INDEX IF NOT EXISTS raw_pages_url_idx ON raw_pages (url);
CREATE INDEX IF NOT EXISTS raw_pages_run_fetched_idx ON raw_pages (run_id, fetched_at);
`

const upgradeFromText = `
DROP INDEX IF EXISTS raw_pages_url_idx;
ALTER TABLE raw_pages RENAME TO raw_pages_v0;
` + schema + `
INSERT INTO raw_pages (id, run_id, url, kind, page_number, fetched_at, status_code, content_hash, content)
SELECT id, run_id, url, kind, page_number,
	unixepoch(fetched_at) * 1000000000 + CASE WHEN instr(fetched_at, '.') > 0
		THEN CAST(substr(rtrim(substr(fetched_at, instr(fetched_at, '.') + 1), 'Z') || '000000000', 1, 9) AS INTEGER)
		ELSE 0 END,
	status_code, content_hash, content
FROM raw_pages_v0;
DROP TABLE raw_pages_v0;
`

// RawStore persists RawPage captures keyed by (run_id, url).
type RawStore struct {
	db *sql.DB
}

var _ crawler.RawStore = (*RawStore)(nil)

// RunSummary describes the captures recorded by one crawl run.
type RunSummary struct {
	RunID string
	Pages map[crawler.PageKind]int
	Bytes int64
	// Last is the most recent capture of the run; zero when the run saved nothing.
	Last crawler.RawPage
}

// Total returns the number of captures across page kinds.
func (s RunSummary) Total() int {
	n := 0
	for _, c := range s.Pages {
		n += c
	}
	return n
}

// Open opens (or creates) the capture log at path. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*RawStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create raw store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate raw store: %w", err)
	}
	return &RawStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'raw_pages'`).Scan(&existing)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	ddl := schema
	if existing > 0 {
		ddl = upgradeFromText
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema v%d: %w", schemaVersion, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// SavePage inserts the capture. Re-fetching a URL within the same run
// replaces the earlier capture; other runs keep their own rows.
func (s *RawStore) SavePage(ctx context.Context, page crawler.RawPage) error {
	const q = `
INSERT INTO raw_pages (run_id, url, kind, page_number, fetched_at, status_code, content_hash, content)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, url) DO UPDATE SET
	kind = excluded.kind,
	page_number = excluded.page_number,
	fetched_at = excluded.fetched_at,
	status_code = excluded.status_code,
	content_hash = excluded.content_hash,
	content = excluded.content`
	content := page.Content
	if content == nil {
		content = []byte{}
	}
	_, err := s.db.ExecContext(ctx, q,
		page.RunID,
		page.URL,
		string(page.Kind),
		page.PageNumber,
		page.FetchedAt.UnixNano(),
		page.StatusCode,
		page.ContentHash,
		content,
	)
	if err != nil {
		return fmt.Errorf("save raw page %s: %w", page.URL, err)
	}
	return nil
}

// Summary reports the captures of one run: counts per page kind, stored
// bytes and the most recently fetched page.
func (s *RawStore) Summary(ctx context.Context, runID string) (RunSummary, error) {
	sum := RunSummary{RunID: runID, Pages: make(map[crawler.PageKind]int)}

	rows, err := s.db.QueryContext(ctx, `
SELECT kind, COUNT(*), COALESCE(SUM(LENGTH(content)), 0)
FROM raw_pages WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("summarize raw pages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			kind  string
			count int
			bytes int64
		)
		if err := rows.Scan(&kind, &count, &bytes); err != nil {
			return RunSummary{}, fmt.Errorf("scan raw page summary: %w", err)
		}
		sum.Pages[crawler.PageKind(kind)] = count
		sum.Bytes += bytes
	}
	if err := rows.Err(); err != nil {
		return RunSummary{}, fmt.Errorf("iterate raw page summary: %w", err)
	}

	const q = `
SELECT run_id, url, kind, page_number, fetched_at, status_code, content_hash, content
FROM raw_pages WHERE run_id = ? ORDER BY fetched_at DESC, id DESC LIMIT 1`
	last, err := scanPage(s.db.QueryRowContext(ctx, q, runID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return RunSummary{}, err
	default:
		sum.Last = last
	}
	return sum, nil
}

// Count returns the number of stored captures.
func (s *RawStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count raw pages: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *RawStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close raw store: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(row scanner) (crawler.RawPage, error) {
	var (
		page      crawler.RawPage
		kind      string
		fetchedAt int64
	)
	err := row.Scan(&page.RunID, &page.URL, &kind, &page.PageNumber, &fetchedAt, &page.StatusCode, &page.ContentHash, &page.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.RawPage{}, err
	}
	if err != nil {
		return crawler.RawPage{}, fmt.Errorf("scan raw page: %w", err)
	}
	page.Kind = crawler.PageKind(kind)
	page.FetchedAt = time.Unix(0, fetchedAt).UTC()
	return page, nil
}
