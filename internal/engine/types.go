// Package engine holds the thermostat state machine: operating mode, demand
// state, desired-temperature computation and the actuation decision.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the operating mode.
type Mode string

const (
	Auto   Mode = "AUTO"
	Manual Mode = "MANUAL"
)

// DemandState is the thermostat's operating intent.
type DemandState string

const (
	Off  DemandState = "OFF"
	Heat DemandState = "HEAT"
	Cool DemandState = "COOL"
	Vent DemandState = "VENT"
)

// Season is an explicit time-of-year override for demand recomputation.
type Season string

const (
	NoSeason Season = ""
	Summer   Season = "SUMMER"
	Winter   Season = "WINTER"
)

// Validation errors.
var (
	ErrInvalidMode   = errors.New("invalid mode")
	ErrInvalidDemand = errors.New("invalid demand state")
	ErrInvalidSeason = errors.New("invalid season")
	ErrInvalidFormat = errors.New("invalid temperature format")

	ErrFormatMismatch   = errors.New("temperature format mismatch")
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// ParseMode accepts AUTO or MANUAL in any case.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidMode)
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == Auto || m == Manual }

// ParseDemandState accepts OFF, HEAT, COOL or VENT in any case.
func ParseDemandState(s string) (DemandState, error) {
	d := DemandState(strings.ToUpper(strings.TrimSpace(s)))
	if d.Valid() {
		return d, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidDemand)
}

// Valid reports whether d is a known demand state.
func (d DemandState) Valid() bool {
	switch d {
	case Off, Heat, Cool, Vent:
		return true
	}
	return false
}

// ParseSeason accepts SUMMER, WINTER or an empty string.
func ParseSeason(s string) (Season, error) {
	v := Season(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case NoSeason, Summer, Winter:
		return v, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidSeason)
}

// SeasonFor maps a date to a season: May through August is SUMMER, October
// through March is WINTER, and the shoulder months have none.
func SeasonFor(t time.Time) Season {
	switch t.Month() {
	case time.May, time.June, time.July, time.August:
		return Summer
	case time.October, time.November, time.December, time.January, time.February, time.March:
		return Winter
	}
	return NoSeason
}

// monthGuess picks HEAT for October through April and COOL otherwise. It is
// used only when no forecast is available.
func monthGuess(t time.Time) DemandState {
	switch t.Month() {
	case time.May, time.June, time.July, time.August, time.September:
		return Cool
	}
	return Heat
}

// Thresholds are the forecast deltas that drive demand recomputation. High
// deltas are added to maxTemp; low deltas are added to minTemp and are
// therefore negative.
type Thresholds struct {
	CombinedHigh float64
	CombinedLow  float64
	HighOnly     float64
	LowOnly      float64
}

// Validate requires positive high deltas and negative low deltas.
func (t Thresholds) Validate() error {
	switch {
	case t.CombinedHigh <= 0:
		return fmt.Errorf("combined high %v must be positive: %w", t.CombinedHigh, ErrInvalidThreshold)
	case t.HighOnly <= 0:
		return fmt.Errorf("high only %v must be positive: %w", t.HighOnly, ErrInvalidThreshold)
	case t.CombinedLow >= 0:
		return fmt.Errorf("combined low %v must be negative: %w", t.CombinedLow, ErrInvalidThreshold)
	case t.LowOnly >= 0:
		return fmt.Errorf("low only %v must be negative: %w", t.LowOnly, ErrInvalidThreshold)
	}
	return nil
}

// DefaultThresholds returns +10/-20 combined, +5 high-only, -15 low-only.
func DefaultThresholds() Thresholds {
	return Thresholds{CombinedHigh: 10, CombinedLow: -20, HighOnly: 5, LowOnly: -15}
}

// Window adds Delta to the desired temperature between Start and End, both
// HHMM and inclusive. A window with Start after End wraps midnight.
type Window struct {
	Start int
	End   int
	Delta float64
}

// Contains reports whether hhmm falls within the window.
func (w Window) Contains(hhmm int) bool {
	if w.Start <= w.End {
		return hhmm >= w.Start && hhmm <= w.End
	}
	return hhmm >= w.Start || hhmm <= w.End
}

// ValidHHMM reports whether v is a valid 24h HHMM value.
func ValidHHMM(v int) bool {
	return v >= 0 && v/100 < 24 && v%100 < 60
}

// HHMM returns t's wall-clock time as an HHMM integer.
func HHMM(t time.Time) int {
	return t.Hour()*100 + t.Minute()
}

// Profile is the desired-temperature table for one demand state.
type Profile struct {
	Base    float64
	Windows []Window
	Home    float64
	Away    float64
}

// Modifier sums the deltas of every window containing hhmm plus the
// occupancy delta.
func (p Profile) Modifier(hhmm int, occupied bool) float64 {
	var mod float64
	for _, w := range p.Windows {
		if w.Contains(hhmm) {
			mod += w.Delta
		}
	}
	if occupied {
		mod += p.Home
	} else {
		mod += p.Away
	}
	return mod
}
