// Package sqlite is the default durable Store backend, built on the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/i474232898/weather-bot/internal/store"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dsn and runs migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS query_log (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			city TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_log_user ON query_log(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			user_id INTEGER PRIMARY KEY,
			city TEXT NOT NULL,
			threshold REAL NOT NULL CHECK (threshold > 0),
			baseline REAL NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			version INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AppendQuery(ctx context.Context, entry store.QueryLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_log (id, user_id, city, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID.String(), entry.UserID, entry.City, entry.CreatedAt.UnixMilli())
	return store.Wrap("append query", err)
}

func (s *Store) RecentQueries(ctx context.Context, userID int64, limit int) ([]store.QueryLogEntry, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, city, created_at FROM query_log
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, store.Wrap("recent queries", err)
	}
	defer rows.Close()

	var entries []store.QueryLogEntry
	for rows.Next() {
		var (
			e         store.QueryLogEntry
			id        string
			createdAt int64
		)
		if err := rows.Scan(&id, &e.UserID, &e.City, &createdAt); err != nil {
			return nil, store.Wrap("recent queries", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, store.Wrap("recent queries", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, store.Wrap("recent queries", rows.Err())
}

func (s *Store) PruneQueries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_log WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, store.Wrap("prune queries", err)
	}
	n, err := res.RowsAffected()
	return n, store.Wrap("prune queries", err)
}

func (s *Store) UpsertAlert(ctx context.Context, reg store.AlertRegistration) (store.AlertRegistration, error) {
	if err := reg.Validate(); err != nil {
		return store.AlertRegistration{}, store.Wrap("upsert alert", err)
	}

	now := time.Now().UTC()
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alerts (user_id, city, threshold, baseline, enabled, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			city = excluded.city,
			threshold = excluded.threshold,
			baseline = excluded.baseline,
			enabled = excluded.enabled,
			version = alerts.version + 1,
			updated_at = excluded.updated_at
		 RETURNING version, created_at`,
		reg.UserID, strings.TrimSpace(reg.City), reg.Threshold, reg.BaselineTemperature, reg.Enabled,
		now.UnixMilli(), now.UnixMilli(),
	).Scan(&reg.Version, &createdAt)
	if err != nil {
		return store.AlertRegistration{}, store.Wrap("upsert alert", err)
	}
	reg.City = strings.TrimSpace(reg.City)
	reg.CreatedAt = time.UnixMilli(createdAt).UTC()
	reg.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return reg, nil
}

const alertColumns = `user_id, city, threshold, baseline, enabled, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (store.AlertRegistration, error) {
	var (
		reg                  store.AlertRegistration
		createdAt, updatedAt int64
	)
	err := row.Scan(&reg.UserID, &reg.City, &reg.Threshold, &reg.BaselineTemperature,
		&reg.Enabled, &reg.Version, &createdAt, &updatedAt)
	if err != nil {
		return store.AlertRegistration{}, err
	}
	reg.CreatedAt = time.UnixMilli(createdAt).UTC()
	reg.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return reg, nil
}

func (s *Store) GetAlert(ctx context.Context, userID int64) (store.AlertRegistration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE user_id = ?`, userID)
	reg, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AlertRegistration{}, store.Wrap("get alert", store.ErrNotFound)
	}
	if err != nil {
		return store.AlertRegistration{}, store.Wrap("get alert", err)
	}
	return reg, nil
}

func (s *Store) ListEnabledAlerts(ctx context.Context) ([]store.AlertRegistration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE enabled = 1 ORDER BY user_id`)
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET baseline = ?, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND version = ?`,
		temperature, time.Now().UTC().UnixMilli(), userID, version)
	if err != nil {
		return store.Wrap("update baseline", err)
	}
	return s.checkAffected(ctx, "update baseline", res, userID, store.ErrConflict)
}

func (s *Store) SetAlertEnabled(ctx context.Context, userID int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET enabled = ?, version = version + 1, updated_at = ? WHERE user_id = ?`,
		enabled, time.Now().UTC().UnixMilli(), userID)
	if err != nil {
		return store.Wrap("set alert enabled", err)
	}
	return s.checkAffected(ctx, "set alert enabled", res, userID, store.ErrNotFound)
}

func (s *Store) DeleteAlert(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE user_id = ?`, userID)
	if err != nil {
		return store.Wrap("delete alert", err)
	}
	return s.checkAffected(ctx, "delete alert", res, userID, store.ErrNotFound)
}

// checkAffected turns a zero-row update into ErrNotFound when the row is
// missing, or into onMiss when it exists but the WHERE clause did not match.
func (s *Store) checkAffected(ctx context.Context, op string, res sql.Result, userID int64, onMiss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return store.Wrap(op, err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE user_id = ?`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Wrap(op, store.ErrNotFound)
	}
	if err != nil {
		return store.Wrap(op, err)
	}
	return store.Wrap(op, onMiss)
}
