package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/sensor"
	"github.com/sweeney/thermostat/internal/timer"
)

// DefaultInterval is how often the demand state is recomputed.
const DefaultInterval = 24 * time.Hour

// Config is the engine's static configuration.
type Config struct {
	MinTemp     float64
	MaxTemp     float64
	DefaultTemp float64
	Format      sensor.Scale
	Interval    time.Duration
	Thresholds  Thresholds
	Profiles    map[DemandState]Profile

	// VerifyCooling re-reads sensors before cooler transitions.
	VerifyCooling bool
	// GateCooling applies the cooler's short-cycle timer to its transitions.
	GateCooling bool
}

// Engine is the thermostat state machine. It is not safe for concurrent use;
// the control loop is its only writer.
type Engine struct {
	mode       Mode
	demand     DemandState
	minTemp    float64
	maxTemp    float64
	defaultT   float64
	desired    float64
	format     sensor.Scale
	timer      *timer.Timer
	thresholds Thresholds
	profiles   map[DemandState]Profile
	verifyCool bool
	gateCool   bool
	log        *logger.Logger
}

// New validates cfg and creates an engine in AUTO/OFF at the default
// temperature.
func New(cfg Config, log *logger.Logger) (*Engine, error) {
	if cfg.MinTemp >= cfg.MaxTemp {
		return nil, fmt.Errorf("min temperature %v must be below max %v", cfg.MinTemp, cfg.MaxTemp)
	}
	if cfg.DefaultTemp < cfg.MinTemp || cfg.DefaultTemp > cfg.MaxTemp {
		return nil, fmt.Errorf("default temperature %v outside [%v, %v]", cfg.DefaultTemp, cfg.MinTemp, cfg.MaxTemp)
	}
	if cfg.Format == "" {
		cfg.Format = sensor.Fahrenheit
	}
	if _, err := sensor.ParseScale(string(cfg.Format)); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	for d, p := range cfg.Profiles {
		if !d.Valid() {
			return nil, fmt.Errorf("profile %q: %w", string(d), ErrInvalidDemand)
		}
		for _, w := range p.Windows {
			if !ValidHHMM(w.Start) || !ValidHHMM(w.End) {
				return nil, fmt.Errorf("profile %s: invalid window %04d-%04d", d, w.Start, w.End)
			}
		}
	}
	return &Engine{
		mode:       Auto,
		demand:     Off,
		minTemp:    cfg.MinTemp,
		maxTemp:    cfg.MaxTemp,
		defaultT:   cfg.DefaultTemp,
		desired:    cfg.DefaultTemp,
		format:     cfg.Format,
		timer:      timer.New(cfg.Interval),
		thresholds: cfg.Thresholds,
		profiles:   cfg.Profiles,
		verifyCool: cfg.VerifyCooling,
		gateCool:   cfg.GateCooling,
		log:        log,
	}, nil
}

func (e *Engine) Mode() Mode { return e.mode }
func (e *Engine) DemandState() DemandState { return e.demand }
func (e *Engine) DesiredTemp() float64 { return e.desired }
func (e *Engine) MinTemp() float64 { return e.minTemp }
func (e *Engine) MaxTemp() float64 { return e.maxTemp }
func (e *Engine) DefaultTemp() float64 { return e.defaultT }
func (e *Engine) Format() sensor.Scale { return e.format }
func (e *Engine) Timer() *timer.Timer { return e.timer }

// IsDue reports whether the demand state should be recomputed.
func (e *Engine) IsDue(now time.Time) bool { return e.timer.IsDue(now) }

// LastCheck returns when the demand state was last recomputed.
func (e *Engine) LastCheck() (time.Time, bool) { return e.timer.LastTriggered() }

// SetMode assigns the mode. Invalid values are rejected without mutation.
func (e *Engine) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%q: %w", string(m), ErrInvalidMode)
	}
	e.mode = m
	return nil
}

// SetDemandState assigns the demand state. Invalid values are rejected
// without mutation.
func (e *Engine) SetDemandState(d DemandState) error {
	if !d.Valid() {
		return fmt.Errorf("%q: %w", string(d), ErrInvalidDemand)
	}
	e.demand = d
	return nil
}

// SetFormat assigns the reporting scale. Invalid values are rejected
// without mutation.
func (e *Engine) SetFormat(f sensor.Scale) error {
	if f != sensor.Fahrenheit && f != sensor.Celsius {
		return fmt.Errorf("%q: %w", string(f), ErrInvalidFormat)
	}
	e.format = f
	return nil
}

// SetDesiredTemp clamps t to [min, max] and stores it. A clamped request is
// logged as a correction. The stored value is returned.
func (e *Engine) SetDesiredTemp(t float64) float64 {
	v := t
	if v < e.minTemp {
		v = e.minTemp
	} else if v > e.maxTemp {
		v = e.maxTemp
	}
	if v != t {
		e.log.Errorw("desired temperature out of range, clamped",
			"requested", t, "applied", v, "min", e.minTemp, "max", e.maxTemp)
	}
	e.desired = v
	return v
}

// DesiredFahrenheit returns the desired temperature in °F regardless of the
// reporting scale.
func (e *Engine) DesiredFahrenheit() float64 {
	if e.format == sensor.Celsius {
		return sensor.CelsiusToFahrenheit(e.desired)
	}
	return e.desired
}

// NoForecast returns the sentinel bounds meaning "no forecast data".
func (e *Engine) NoForecast() (high, low float64) {
	return e.maxTemp, e.minTemp
}

// RecomputeDemandState re-evaluates the demand state from the forecast
// bounds and season. Callers check IsDue first; the Timer is marked at now
// unconditionally.
func (e *Engine) RecomputeDemandState(now time.Time, high, low float64, season Season) DemandState {
	if e.mode == Manual {
		e.mode = Auto
		e.log.Infow("manual hold expired, returning to auto")
	}
	e.timer.ResetToDefault()

	prev := e.demand
	switch season {
	case Summer:
		e.demand = Cool
	case Winter:
		e.demand = Heat
	default:
		if high == e.maxTemp && low == e.minTemp {
			e.demand = monthGuess(now)
			e.log.Debugw("no forecast, guessing demand from month", "month", now.Month().String(), "demand", string(e.demand))
		} else {
			e.demand = e.fromForecast(high, low)
		}
	}
	e.timer.MarkTriggered(now)

	if e.demand != prev {
		e.log.Infow("demand state changed", "from", string(prev), "to", string(e.demand),
			"high", high, "low", low, "season", string(season))
	}
	return e.demand
}

func (e *Engine) fromForecast(high, low float64) DemandState {
	th := e.thresholds
	hot := high > e.maxTemp+th.CombinedHigh
	cold := low < e.minTemp+th.CombinedLow
	switch {
	case hot && cold:
		// Overshoot relative to each threshold; COOL wins ties.
		heat := (e.minTemp - low) / -th.CombinedLow
		cool := (high - e.maxTemp) / th.CombinedHigh
		if heat > cool {
			return Heat
		}
		return Cool
	case high > e.maxTemp+th.HighOnly:
		return Cool
	case low < e.minTemp+th.LowOnly:
		return Heat
	}
	return Off
}

// ComputeDesiredTemp derives the desired temperature from the demand
// state's profile, the time of day and occupancy, and stores it clamped.
func (e *Engine) ComputeDesiredTemp(now time.Time, occupied bool) float64 {
	if e.demand == Off {
		return e.SetDesiredTemp(e.defaultT)
	}
	p, ok := e.profiles[e.demand]
	if !ok {
		return e.SetDesiredTemp(e.defaultT)
	}
	return e.SetDesiredTemp(p.Base + p.Modifier(HHMM(now), occupied))
}

// SetManual switches to MANUAL at the given desired temperature. The
// engine Timer is stamped at now with the hold interval, so the next due
// recomputation ends the hold. A zero hold keeps the current interval.
func (e *Engine) SetManual(now time.Time, desired float64, hold time.Duration) float64 {
	e.mode = Manual
	if hold > 0 {
		e.timer.SetInterval(hold)
	}
	e.timer.MarkTriggered(now)
	return e.SetDesiredTemp(desired)
}

// ResumeAuto ends a manual hold. The Timer is cleared so the demand state is
// recomputed on the next tick.
func (e *Engine) ResumeAuto() {
	e.mode = Auto
	e.timer.ResetToDefault()
	e.timer.Clear()
}

// Runtime is the persisted subset of engine state.
type Runtime struct {
	Mode      Mode
	Demand    DemandState
	Desired   float64
	Format    sensor.Scale
	LastCheck time.Time
	Hold      time.Duration
}

// Runtime snapshots the persisted state.
func (e *Engine) Runtime() Runtime {
	rt := Runtime{Mode: e.mode, Demand: e.demand, Desired: e.desired, Format: e.format}
	if last, ok := e.timer.LastTriggered(); ok {
		rt.LastCheck = last
	}
	if e.timer.Overridden() {
		rt.Hold = e.timer.Interval()
	}
	return rt
}

// Restore applies a persisted snapshot. Invalid fields are rejected and
// reported; valid fields are still applied. The format is never restored:
// a snapshot taken in another scale keeps its demand state and last check,
// but its setpoint and any manual hold are discarded.
func (e *Engine) Restore(rt Runtime) error {
	var errs []error
	if rt.Format != "" && rt.Format != e.format {
		e.log.Warnw("saved runtime uses a different temperature format, discarding setpoint",
			"saved", string(rt.Format), "configured", string(e.format), "desired", rt.Desired)
		errs = append(errs, fmt.Errorf("saved format %q, configured %q: %w", string(rt.Format), string(e.format), ErrFormatMismatch))
		rt.Mode = Auto
		rt.Desired = e.defaultT
		rt.Hold = 0
	}
	if err := e.SetMode(rt.Mode); err != nil {
		errs = append(errs, err)
	}
	if err := e.SetDemandState(rt.Demand); err != nil {
		errs = append(errs, err)
	}
	e.SetDesiredTemp(rt.Desired)
	if rt.Hold > 0 {
		e.timer.SetInterval(rt.Hold)
	}
	if !rt.LastCheck.IsZero() {
		e.timer.MarkTriggered(rt.LastCheck)
	}
	return errors.Join(errs...)
}
