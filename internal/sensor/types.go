// Package sensor converts raw analog samples into calibrated temperatures and
// aggregates them per sensor group.
package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// Scale is the temperature scale used for reporting.
type Scale string

const (
	Fahrenheit Scale = "F"
	Celsius    Scale = "C"
)

// ErrInvalidScale is returned by ParseScale.
var ErrInvalidScale = errors.New("invalid temperature format")

// ParseScale accepts F or C in any case.
func ParseScale(s string) (Scale, error) {
	switch Scale(strings.ToUpper(strings.TrimSpace(s))) {
	case Fahrenheit:
		return Fahrenheit, nil
	case Celsius:
		return Celsius, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidScale)
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*1.8 + 32
}

// ModuleKind identifies the physical sensor and selects its conversion formula.
type ModuleKind string

// LM35 outputs 10 mV/°C. Both kinds describe the same part; they differ in
// how the sample arrives.
const (
	// LM35 is read through a 10-bit ADC at 5 V reference; samples are counts.
	LM35 ModuleKind = "LM35"
	// LM35V is read by an input that reports volts, such as an EVOK analog
	// input.
	LM35V ModuleKind = "LM35_V"
)

// lm35Factor is 500 / 1024: ADC counts to °C.
const lm35Factor = 0.48828125

// countsPerVolt maps volts onto the 10-bit, 5 V reference count scale.
const countsPerVolt = 1024.0 / 5

// ErrUnknownModule is returned for module kinds without a conversion formula.
var ErrUnknownModule = errors.New("unknown sensor module")

// ParseModuleKind normalizes and validates a module kind.
func ParseModuleKind(s string) (ModuleKind, error) {
	k := ModuleKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case LM35, LM35V:
		return k, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownModule)
}

// Volts reports whether samples for this kind are voltages rather than
// ADC counts.
func (k ModuleKind) Volts() bool { return k == LM35V }

// Counts normalizes a raw sample onto the ADC count scale. The plausibility
// window is expressed on that scale.
func (k ModuleKind) Counts(raw float64) (float64, error) {
	switch k {
	case LM35:
		return raw, nil
	case LM35V:
		return raw * countsPerVolt, nil
	}
	return 0, fmt.Errorf("%q: %w", string(k), ErrUnknownModule)
}

// ToCelsius converts a raw sample.
func (k ModuleKind) ToCelsius(raw float64) (float64, error) {
	counts, err := k.Counts(raw)
	if err != nil {
		return 0, err
	}
	return counts * lm35Factor, nil
}

// TemperatureSensor is a single analog temperature probe.
// Its last good reading is sticky across failed reads.
type TemperatureSensor struct {
	name     string
	kind     ModuleKind
	channel  int
	celsius  float64
	valid    bool
	degraded bool
}

// NormalizeName returns the canonical form of sensor and group names.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// NewTemperatureSensor validates and creates a sensor with no reading.
func NewTemperatureSensor(name, kind string, channel int) (*TemperatureSensor, error) {
	n := NormalizeName(name)
	if n == "" {
		return nil, errors.New("sensor name is empty")
	}
	k, err := ParseModuleKind(kind)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", n, err)
	}
	if channel < 0 {
		return nil, fmt.Errorf("sensor %s: invalid channel %d", n, channel)
	}
	return &TemperatureSensor{name: n, kind: k, channel: channel}, nil
}

// Name returns the normalized name.
func (s *TemperatureSensor) Name() string { return s.name }

// Kind returns the module kind.
func (s *TemperatureSensor) Kind() ModuleKind { return s.kind }

// Channel returns the ADC channel.
func (s *TemperatureSensor) Channel() int { return s.channel }

// Celsius returns the last reading in °C.
func (s *TemperatureSensor) Celsius() (float64, bool) {
	return s.celsius, s.valid
}

// Fahrenheit derives °F from the last reading.
func (s *TemperatureSensor) Fahrenheit() (float64, bool) {
	if !s.valid {
		return 0, false
	}
	return CelsiusToFahrenheit(s.celsius), true
}

// Reading returns the last reading in the requested scale.
func (s *TemperatureSensor) Reading(scale Scale) (float64, bool) {
	if scale == Celsius {
		return s.Celsius()
	}
	return s.Fahrenheit()
}

// Degraded reports whether the current value is a synthetic fallback.
func (s *TemperatureSensor) Degraded() bool { return s.degraded }

func (s *TemperatureSensor) set(celsius float64, degraded bool) {
	s.celsius = celsius
	s.valid = true
	s.degraded = degraded
}
