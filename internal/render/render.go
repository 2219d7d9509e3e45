// Package render turns forecasts into chart images and speech clips. Both
// are best-effort: callers degrade to a text reply on any *Error.
package render

import "fmt"

// Kind tells which renderer failed.
type Kind string

const (
	KindChart  Kind = "chart"
	KindSpeech Kind = "speech"
)

// Error is returned by every renderer in this package.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Point is one labelled value on a chart.
type Point struct {
	Label string
	Value float64
}
