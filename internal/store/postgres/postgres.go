// Package postgres provides a PostgreSQL-backed store.Store. The Store
// accepts a DBTX interface satisfied by both *pgxpool.Pool and pgx.Tx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/weather-bot/internal/store"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db   DBTX
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing connection (pool or transaction).
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Open connects to databaseURL, pings it and creates the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS query_log (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		city TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_log_user ON query_log(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		user_id BIGINT PRIMARY KEY,
		city TEXT NOT NULL,
		threshold DOUBLE PRECISION NOT NULL CHECK (threshold > 0),
		baseline DOUBLE PRECISION NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.Exec(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) AppendQuery(ctx context.Context, entry store.QueryLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO query_log (id, user_id, city, created_at) VALUES ($1, $2, $3, $4)`,
		entry.ID.String(), entry.UserID, entry.City, entry.CreatedAt)
	return store.Wrap("append query", err)
}

func (s *Store) RecentQueries(ctx context.Context, userID int64, limit int) ([]store.QueryLogEntry, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	rows, err := s.db.Query(ctx,
		`SELECT id::text, user_id, city, created_at FROM query_log
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limitArg)
	if err != nil {
		return nil, store.Wrap("recent queries", err)
	}
	defer rows.Close()

	var entries []store.QueryLogEntry
	for rows.Next() {
		var (
			e  store.QueryLogEntry
			id string
		)
		if err := rows.Scan(&id, &e.UserID, &e.City, &e.CreatedAt); err != nil {
			return nil, store.Wrap("recent queries", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, store.Wrap("recent queries", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, store.Wrap("recent queries", rows.Err())
}

func (s *Store) PruneQueries(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM query_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, store.Wrap("prune queries", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) UpsertAlert(ctx context.Context, reg store.AlertRegistration) (store.AlertRegistration, error) {
	if err := reg.Validate(); err != nil {
		return store.AlertRegistration{}, store.Wrap("upsert alert", err)
	}
	reg.City = strings.TrimSpace(reg.City)

	now := time.Now().UTC()
	err := s.db.QueryRow(ctx,
		`INSERT INTO alerts (user_id, city, threshold, baseline, enabled, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
			city = EXCLUDED.city,
			threshold = EXCLUDED.threshold,
			baseline = EXCLUDED.baseline,
			enabled = EXCLUDED.enabled,
			version = alerts.version + 1,
			updated_at = EXCLUDED.updated_at
		 RETURNING version, created_at, updated_at`,
		reg.UserID, reg.City, reg.Threshold, reg.BaselineTemperature, reg.Enabled, now,
	).Scan(&reg.Version, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return store.AlertRegistration{}, store.Wrap("upsert alert", err)
	}
	return reg, nil
}

// alertColumns must match the scan order in scanAlert.
const alertColumns = `user_id, city, threshold, baseline, enabled, version, created_at, updated_at`

func scanAlert(row pgx.Row) (store.AlertRegistration, error) {
	var reg store.AlertRegistration
	err := row.Scan(
		&reg.UserID,
		&reg.City,
		&reg.Threshold,
		&reg.BaselineTemperature,
		&reg.Enabled,
		&reg.Version,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	return reg, err
}

func (s *Store) GetAlert(ctx context.Context, userID int64) (store.AlertRegistration, error) {
	reg, err := scanAlert(s.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.AlertRegistration{}, store.Wrap("get alert", store.ErrNotFound)
		}
		return store.AlertRegistration{}, store.Wrap("get alert", err)
	}
	return reg, nil
}

func (s *Store) ListEnabledAlerts(ctx context.Context) ([]store.AlertRegistration, error) {
	rows, err := s.db.Query(ctx, `SELECT `+alertColumns+` FROM alerts WHERE enabled ORDER BY user_id`)
	if err != nil {
		return nil, store.Wrap("list alerts", err)
	}
	defer rows.Close()

	var regs []store.AlertRegistration
	for rows.Next() {
		reg, err := scanAlert(rows)
		if err != nil {
			return nil, store.Wrap("list alerts", err)
		}
		regs = append(regs, reg)
	}
	return regs, store.Wrap("list alerts", rows.Err())
}

func (s *Store) UpdateBaseline(ctx context.Context, userID, version int64, temperature float64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE alerts SET baseline = $1, version = version + 1, updated_at = $2
		 WHERE user_id = $3 AND version = $4`,
		temperature, time.Now().UTC(), userID, version)
	if err != nil {
		return store.Wrap("update baseline", err)
	}
	return s.checkAffected(ctx, "update baseline", tag, userID, store.ErrConflict)
}

func (s *Store) SetAlertEnabled(ctx context.Context, userID int64, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE alerts SET enabled = $1, version = version + 1, updated_at = $2 WHERE user_id = $3`,
		enabled, time.Now().UTC(), userID)
	if err != nil {
		return store.Wrap("set alert enabled", err)
	}
	return s.checkAffected(ctx, "set alert enabled", tag, userID, store.ErrNotFound)
}

func (s *Store) DeleteAlert(ctx context.Context, userID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM alerts WHERE user_id = $1`, userID)
	if err != nil {
		return store.Wrap("delete alert", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Wrap("delete alert", store.ErrNotFound)
	}
	return nil
}

// checkAffected distinguishes a missing row from a failed version check.
func (s *Store) checkAffected(ctx context.Context, op string, tag pgconn.CommandTag, userID int64, onMiss error) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return store.Wrap(op, err)
	}
	if !exists {
		return store.Wrap(op, store.ErrNotFound)
	}
	return store.Wrap(op, onMiss)
}
