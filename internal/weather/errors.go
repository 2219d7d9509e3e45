package weather

import (
	"errors"
	"fmt"
)

// Reason classifies why the gateway could not produce data.
type Reason string

const (
	ReasonNetwork     Reason = "network"
	ReasonNotFound    Reason = "not_found"
	ReasonMalformed   Reason = "malformed"
	ReasonUnavailable Reason = "unavailable"
	ReasonNoProviders Reason = "no_providers"
)

// GatewayError is returned whenever the upstream weather data could not be
// obtained. Provider is empty for errors raised by the aggregating Service.
type GatewayError struct {
	Reason   Reason
	Provider string
	Err      error
}

func (e *GatewayError) Error() string {
	msg := string(e.Reason)
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("weather gateway: %s: %v", msg, e.Err)
	}
	return "weather gateway: " + msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError wraps err with a reason for the named provider.
func NewGatewayError(provider string, reason Reason, err error) *GatewayError {
	return &GatewayError{Reason: reason, Provider: provider, Err: err}
}

// ReasonOf extracts the Reason from err, or ReasonUnavailable when err is
// not a GatewayError.
func ReasonOf(err error) Reason {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Reason
	}
	return ReasonUnavailable
}

// reasonRank orders reasons so the aggregate error reports the most
// informative one: a city every provider rejected is "not found" even if
// one provider also timed out.
var reasonRank = map[Reason]int{
	ReasonNotFound:    4,
	ReasonMalformed:   3,
	ReasonNetwork:     2,
	ReasonUnavailable: 1,
	ReasonNoProviders: 0,
}

func mostSignificant(errs []error) Reason {
	best := ReasonUnavailable
	bestRank := -1
	for _, err := range errs {
		r := ReasonOf(err)
		if rank := reasonRank[r]; rank > bestRank {
			best, bestRank = r, rank
		}
	}
	return best
}
