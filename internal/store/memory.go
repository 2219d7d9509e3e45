package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory implementation of Store.
// Data is lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	// key: user id, value: query log, oldest first
	history map[int64][]QueryLogEntry
	alerts  map[int64]AlertRegistration

	// retention configuration
	maxHistory int // max number of log entries kept per user
}

// NewMemoryStore creates a new MemoryStore.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		history:    make(map[int64][]QueryLogEntry),
		alerts:     make(map[int64]AlertRegistration),
		maxHistory: maxHistory,
	}
}

// AppendQuery appends a log entry for the user and enforces retention.
func (s *MemoryStore) AppendQuery(ctx context.Context, entry QueryLogEntry) error {
	if err := ctx.Err(); err != nil {
		return Wrap("append query", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.history[entry.UserID], entry)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(entries) > s.maxHistory {
		over := len(entries) - s.maxHistory
		entries = entries[over:]
	}
	s.history[entry.UserID] = entries
	return nil
}

// RecentQueries returns the newest entries for a user.
func (s *MemoryStore) RecentQueries(ctx context.Context, userID int64, limit int) ([]QueryLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("recent queries", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[userID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	result := make([]QueryLogEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i])
	}
	return result, nil
}

// PruneQueries drops every entry created before cutoff.
func (s *MemoryStore) PruneQueries(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Wrap("prune queries", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for userID, entries := range s.history {
		i := 0
		for ; i < len(entries); i++ {
			if !entries[i].CreatedAt.Before(cutoff) {
				break
			}
		}
		removed += int64(i)
		if i == len(entries) {
			delete(s.history, userID)
			continue
		}
		s.history[userID] = entries[i:]
	}
	return removed, nil
}

func (s *MemoryStore) UpsertAlert(ctx context.Context, reg AlertRegistration) (AlertRegistration, error) {
	if err := ctx.Err(); err != nil {
		return AlertRegistration{}, Wrap("upsert alert", err)
	}
	if err := reg.Validate(); err != nil {
		return AlertRegistration{}, Wrap("upsert alert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	reg.UpdatedAt = now
	if prev, ok := s.alerts[reg.UserID]; ok {
		reg.CreatedAt = prev.CreatedAt
		reg.Version = prev.Version + 1
	} else {
		reg.CreatedAt = now
		reg.Version = 1
	}
	s.alerts[reg.UserID] = reg
	return reg, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, userID int64) (AlertRegistration, error) {
	if err := ctx.Err(); err != nil {
		return AlertRegistration{}, Wrap("get alert", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.alerts[userID]
	if !ok {
		return AlertRegistration{}, Wrap("get alert", ErrNotFound)
	}
	return reg, nil
}

// ListEnabledAlerts returns enabled registrations ordered by user id.
func (s *MemoryStore) ListEnabledAlerts(ctx context.Context) ([]AlertRegistration, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list alerts", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []AlertRegistration
	for _, reg := range s.alerts {
		if reg.Enabled {
			result = append(result, reg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *MemoryStore) UpdateBaseline(ctx context.Context, userID, version int64, temperature float64) error {
	if err := ctx.Err(); err != nil {
		return Wrap("update baseline", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.alerts[userID]
	if !ok {
		return Wrap("update baseline", ErrNotFound)
	}
	if reg.Version != version {
		return Wrap("update baseline", ErrConflict)
	}
	reg.BaselineTemperature = temperature
	reg.Version++
	reg.UpdatedAt = time.Now().UTC()
	s.alerts[userID] = reg
	return nil
}

func (s *MemoryStore) SetAlertEnabled(ctx context.Context, userID int64, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return Wrap("set alert enabled", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.alerts[userID]
	if !ok {
		return Wrap("set alert enabled", ErrNotFound)
	}
	reg.Enabled = enabled
	reg.Version++
	reg.UpdatedAt = time.Now().UTC()
	s.alerts[userID] = reg
	return nil
}

func (s *MemoryStore) DeleteAlert(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return Wrap("delete alert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[userID]; !ok {
		return Wrap("delete alert", ErrNotFound)
	}
	delete(s.alerts, userID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
