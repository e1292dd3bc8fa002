// Package adc reads raw analog sensor channels.
// A zero value is a legitimate "no sample this call" signal; callers discard it.
package adc

import (
	"errors"
	"time"
)

// Reader reads a raw analog value from a channel.
type Reader interface {
	// ReadRaw returns the raw value and the time it was sampled.
	ReadRaw(channel int) (float64, time.Time, error)
}

// ErrNoSample is returned when a channel has nothing to report.
var ErrNoSample = errors.New("adc: no sample")
