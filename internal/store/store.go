// Package store holds the History/Alert Store contract shared by the
// in-memory, SQLite and Postgres backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic baseline update lost a race.
	ErrConflict = errors.New("version conflict")
)

var validate = validator.New()

// Error wraps every backend failure so callers can tell storage problems
// apart from the rest of the taxonomy with errors.As.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err and an *Error otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// AlertRegistration is one user's temperature-change subscription.
type AlertRegistration struct {
	UserID              int64     `json:"userId" validate:"required"`
	City                string    `json:"city" validate:"required"`
	Threshold           float64   `json:"threshold" validate:"gt=0"`
	BaselineTemperature float64   `json:"baselineTemperature"`
	Enabled             bool      `json:"enabled"`
	Version             int64     `json:"version"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Validate checks that a city is set and the threshold is positive.
func (r AlertRegistration) Validate() error {
	r.City = strings.TrimSpace(r.City)
	return validate.Struct(r)
}

// QueryLogEntry is an append-only record of a successful lookup.
type QueryLogEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"userId"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewQueryLogEntry stamps a fresh entry for userID.
func NewQueryLogEntry(userID int64, city string) QueryLogEntry {
	return QueryLogEntry{
		ID:        uuid.New(),
		UserID:    userID,
		City:      strings.TrimSpace(city),
		CreatedAt: time.Now().UTC(),
	}
}

// Store is implemented by every backend. All methods are safe for
// concurrent use; each one is a single atomic row operation.
type Store interface {
	AppendQuery(ctx context.Context, entry QueryLogEntry) error
	// RecentQueries returns at most limit entries for userID, newest first.
	RecentQueries(ctx context.Context, userID int64, limit int) ([]QueryLogEntry, error)
	// PruneQueries deletes entries created before cutoff and reports how many went.
	PruneQueries(ctx context.Context, cutoff time.Time) (int64, error)

	// UpsertAlert creates or replaces the user's registration and returns
	// the stored row with its new Version.
	UpsertAlert(ctx context.Context, reg AlertRegistration) (AlertRegistration, error)
	GetAlert(ctx context.Context, userID int64) (AlertRegistration, error)
	ListEnabledAlerts(ctx context.Context) ([]AlertRegistration, error)
	// UpdateBaseline sets the baseline only if the row is still at version;
	// it returns ErrConflict otherwise and ErrNotFound if the row is gone.
	UpdateBaseline(ctx context.Context, userID, version int64, temperature float64) error
	SetAlertEnabled(ctx context.Context, userID int64, enabled bool) error
	DeleteAlert(ctx context.Context, userID int64) error

	Close() error
}
