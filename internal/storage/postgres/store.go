// Package postgres provides the Postgres-backed relational catalog store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements catalog.Store on Postgres.
type Store struct {
	pool pgxPool
}

var _ catalog.Store = (*Store)(nil)

// New connects a pool and verifies the server is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", catalog.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", catalog.ErrStoreUnavailable, err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", catalog.ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetOrCreateReference inserts the (family, key) row unless it exists and
// returns its id. Concurrent callers racing on the same key converge on the
// row that won the unique constraint.
func (s *Store) GetOrCreateReference(ctx context.Context, family catalog.Family, key, display string) (int64, bool, error) {
	if err := family.Validate(); err != nil {
		return 0, false, err
	}
	table := family.Table()

	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, name_key) VALUES ($1, $2) ON CONFLICT (name_key) DO NOTHING RETURNING id`, table),
		display, key,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, classify(fmt.Errorf("insert %s %q: %w", family, key, err))
	}

	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE name_key = $1`, table), key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("%w: %s %q", catalog.ErrResolutionConflict, family, key)
	}
	if err != nil {
		return 0, false, classify(fmt.Errorf("select %s %q: %w", family, key, err))
	}
	return id, false, nil
}

// WithTx runs fn inside a transaction, committing only when fn returns nil.
// A transaction that cannot be started means no connection is available,
// so Begin failures are always reported as catalog.ErrStoreUnavailable.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		return fmt.Errorf("%w: begin tx: %w", catalog.ErrStoreUnavailable, err)
	}
	if err := fn(ctx, &txStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return classify(errors.Join(err, fmt.Errorf("rollback: %w", rbErr)))
		}
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// BeginSession appends a running import session row.
func (s *Store) BeginSession(ctx context.Context, name string, mode catalog.ImportMode, startedAt time.Time) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO import_sessions (session_name, mode, start_time, status) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, string(mode), startedAt, string(catalog.SessionRunning),
	).Scan(&id)
	if err != nil {
		return 0, classify(fmt.Errorf("insert import session: %w", err))
	}
	return id, nil
}

// FinishSession records the outcome of a session. A session that already
// has an end time is never modified again.
func (s *Store) FinishSession(ctx context.Context, session catalog.ImportSession) error {
	ended := time.Now().UTC()
	if session.EndedAt != nil {
		ended = *session.EndedAt
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE import_sessions SET
	end_time = $2,
	status = $3,
	total_records = $4,
	inserted = $5,
	updated = $6,
	skipped = $7,
	failed = $8,
	notes = $9
WHERE id = $1 AND end_time IS NULL`,
		session.ID,
		ended,
		string(session.Status),
		session.Stats.Total(),
		session.Stats.Inserted,
		session.Stats.Updated,
		session.Stats.Skipped,
		session.Stats.Failed,
		nullString(session.Notes),
	)
	if err != nil {
		return classify(fmt.Errorf("finish import session %d: %w", session.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import session %d is missing or already finished", session.ID)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
