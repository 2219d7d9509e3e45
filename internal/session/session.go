// Package session implements the per-user dialog state machine: which
// scripted dialog a user is in, which question is pending and the answers
// collected so far.
package session

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"
)

var (
	// ErrNoSession is returned by Advance when the user has no open dialog.
	ErrNoSession = errors.New("session: no active dialog")
	// ErrUnknownDialog is a programming error: Begin was called with a
	// kind that has no script.
	ErrUnknownDialog = errors.New("session: unknown dialog kind")
)

// DialogKind identifies a scripted dialog.
type DialogKind int

const (
	DialogNone DialogKind = iota
	DialogCurrentWeather
	DialogForecast
	DialogAlertSetup
)

func (k DialogKind) String() string {
	switch k {
	case DialogNone:
		return "none"
	case DialogCurrentWeather:
		return "current_weather"
	case DialogForecast:
		return "forecast"
	case DialogAlertSetup:
		return "alert_setup"
	default:
		return fmt.Sprintf("dialog(%d)", int(k))
	}
}

// Step is the position inside a dialog.
type Step int

const (
	StepNone Step = iota
	StepAwaitingCity
	StepAwaitingThreshold
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "none"
	case StepAwaitingCity:
		return "awaiting_city"
	case StepAwaitingThreshold:
		return "awaiting_threshold"
	case StepComplete:
		return "complete"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Keys under which answers are collected.
const (
	KeyCity      = "city"
	KeyThreshold = "threshold"
)

// Session is a snapshot of one user's dialog. Values returned by the
// Manager are copies; mutating them has no effect on the Manager.
type Session struct {
	UserID    int64
	Kind      DialogKind
	Step      Step
	Collected map[string]string
	// Attempts counts consecutive rejected answers on the current step.
	Attempts  int
	StartedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the session is inside a dialog.
func (s Session) Active() bool {
	return s.Kind != DialogNone
}

// City returns the collected city, if any.
func (s Session) City() string {
	return s.Collected[KeyCity]
}

// Threshold returns the collected alert threshold.
func (s Session) Threshold() (float64, bool) {
	raw, ok := s.Collected[KeyThreshold]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s Session) clone() Session {
	s.Collected = maps.Clone(s.Collected)
	if s.Collected == nil {
		s.Collected = map[string]string{}
	}
	return s
}

// StepResult is the outcome of Advance.
type StepResult struct {
	Session Session
	// Complete is set once the last step of the script was answered. The
	// session stays open until End is called.
	Complete bool
	// Next is the step now awaiting an answer (StepComplete when done).
	Next Step
	// Abandoned is set when too many rejected answers ended the dialog.
	Abandoned bool
}
