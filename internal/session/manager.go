package session

import (
	"errors"
	"sync"
	"time"
)

// ErrComplete is returned by Advance when the dialog already finished and
// is only waiting for End.
var ErrComplete = errors.New("session: dialog already complete")

// Manager owns every user's session. Different users never contend on
// anything but the short map lock; exclusive per-user access across a whole
// dialog turn is the caller's job (see KeyedMutex).
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session

	idleTimeout time.Duration
	maxAttempts int
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout expires sessions untouched for longer than d. Zero
// disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithMaxAttempts ends a dialog after n consecutive rejected answers on the
// same step. Zero means unlimited re-prompts.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts kind for the user, discarding whatever dialog was open.
func (m *Manager) Begin(userID int64, kind DialogKind) (Session, error) {
	rules := scripts[kind]
	if len(rules) == 0 {
		return Session{}, ErrUnknownDialog
	}

	now := m.now()
	s := &Session{
		UserID:    userID,
		Kind:      kind,
		Step:      rules[0].step,
		Collected: make(map[string]string),
		StartedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()

	return s.clone(), nil
}

// Current returns the user's session, or false if there is none or it has
// been idle past the timeout. Expired sessions are dropped on read.
func (m *Manager) Current(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookupLocked(userID)
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Advance validates answer against the pending step. On success the answer
// is stored and the step moves forward. On a *ValidationError the step is
// unchanged, unless the attempt limit was hit, in which case the session is
// ended and Abandoned is set.
func (m *Manager) Advance(userID int64, answer string) (StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookupLocked(userID)
	if !ok {
		return StepResult{}, ErrNoSession
	}
	if s.Step == StepComplete {
		return StepResult{Session: s.clone(), Complete: true, Next: StepComplete}, ErrComplete
	}

	rule, idx, ok := ruleFor(s.Kind, s.Step)
	if !ok {
		return StepResult{}, ErrUnknownDialog
	}

	s.UpdatedAt = m.now()

	value, tag := rule.parse(answer)
	if tag != "" {
		s.Attempts++
		verr := &ValidationError{Tag: tag, Step: s.Step, Input: answer}
		if m.maxAttempts > 0 && s.Attempts >= m.maxAttempts {
			delete(m.sessions, userID)
			return StepResult{Session: s.clone(), Next: s.Step, Abandoned: true}, verr
		}
		return StepResult{Session: s.clone(), Next: s.Step}, verr
	}

	s.Collected[rule.key] = value
	s.Attempts = 0

	script := scripts[s.Kind]
	if idx+1 < len(script) {
		s.Step = script[idx+1].step
		return StepResult{Session: s.clone(), Next: s.Step}, nil
	}
	s.Step = StepComplete
	return StepResult{Session: s.clone(), Complete: true, Next: StepComplete}, nil
}

// End resets the user to no dialog. It is a no-op when none is open.
func (m *Manager) End(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Len returns the number of open, non-expired sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if !m.expired(s) {
			n++
		}
	}
	return n
}

// Sweep drops every expired session and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) lookupLocked(userID int64) (*Session, bool) {
	s, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	if m.expired(s) {
		delete(m.sessions, userID)
		return nil, false
	}
	return s, true
}

func (m *Manager) expired(s *Session) bool {
	return m.idleTimeout > 0 && m.now().Sub(s.UpdatedAt) > m.idleTimeout
}
