// Package appliance models the latching-relay actuators: heater, cooler and
// vent. Each transition is a momentary pulse on the appliance's on or off
// channel; the logical state is tracked in software only.
package appliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/thermostat/internal/gpio"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/timer"
)

// State is the logical relay state.
type State string

const (
	On  State = "ON"
	Off State = "OFF"
)

// ErrInvalidState is returned for values other than ON and OFF.
var ErrInvalidState = errors.New("invalid appliance state")

// ParseState accepts ON or OFF in any case.
func ParseState(s string) (State, error) {
	switch State(strings.ToUpper(strings.TrimSpace(s))) {
	case On:
		return On, nil
	case Off:
		return Off, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidState)
}

// Kind names the appliance.
type Kind string

const (
	Heater Kind = "heater"
	Cooler Kind = "cooler"
	Vent   Kind = "vent"
)

// Pulse timing defaults.
const (
	DefaultSettle      = 250 * time.Millisecond
	DefaultRelease     = 250 * time.Millisecond
	DefaultVentRelease = time.Second
	DefaultInterval    = 2 * time.Minute
)

// Channels is the (on, off) GPIO line pair driving a latching relay.
type Channels struct {
	On  int
	Off int
}

// Config describes one appliance.
type Config struct {
	Kind     Kind
	Channels Channels
	Interval time.Duration
	Settle   time.Duration
	Release  time.Duration
}

// Appliance is a timed latching actuator.
type Appliance struct {
	kind     Kind
	channels Channels
	state    State
	timer    *timer.Timer
	settle   time.Duration
	release  time.Duration
	out      gpio.Writer
	wait     timer.Waiter
	log      *logger.Logger
}

// New creates an appliance in the OFF state. Zero durations take the
// defaults. A nil wait uses timer.Sleep.
func New(cfg Config, out gpio.Writer, wait timer.Waiter, log *logger.Logger) (*Appliance, error) {
	if cfg.Channels.On < 0 || cfg.Channels.Off < 0 || cfg.Channels.On == cfg.Channels.Off {
		return nil, fmt.Errorf("%s: invalid channel pair %d/%d", cfg.Kind, cfg.Channels.On, cfg.Channels.Off)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Release <= 0 {
		cfg.Release = DefaultRelease
		if cfg.Kind == Vent {
			cfg.Release = DefaultVentRelease
		}
	}
	if wait == nil {
		wait = timer.Sleep
	}
	return &Appliance{
		kind:     cfg.Kind,
		channels: cfg.Channels,
		state:    Off,
		timer:    timer.New(cfg.Interval),
		settle:   cfg.Settle,
		release:  cfg.Release,
		out:      out,
		wait:     wait,
		log:      log,
	}, nil
}

// Kind returns the appliance kind.
func (a *Appliance) Kind() Kind { return a.kind }

// Channels returns the configured line pair.
func (a *Appliance) Channels() Channels { return a.channels }

// State returns the logical state.
func (a *Appliance) State() State { return a.state }

// IsOn reports whether the logical state is ON.
func (a *Appliance) IsOn() bool { return a.state == On }

// SetState assigns the logical state without pulsing. Invalid values are
// rejected and the state is left unchanged.
func (a *Appliance) SetState(s State) error {
	if s != On && s != Off {
		return fmt.Errorf("%s: %q: %w", a.kind, string(s), ErrInvalidState)
	}
	a.state = s
	return nil
}

// Timer exposes the short-cycle timer.
func (a *Appliance) Timer() *timer.Timer { return a.timer }

// IsDue reports whether the short-cycle interval has elapsed.
func (a *Appliance) IsDue(now time.Time) bool { return a.timer.IsDue(now) }

// Update stamps the short-cycle timer. Call it only when a transition is
// committed.
func (a *Appliance) Update(now time.Time) { a.timer.MarkTriggered(now) }

// Activate pulses the on channel and marks the appliance ON.
func (a *Appliance) Activate(ctx context.Context) error {
	if err := a.pulse(ctx, a.channels.On); err != nil {
		return fmt.Errorf("%s on: %w", a.kind, err)
	}
	a.state = On
	a.log.Infow("appliance on", "appliance", string(a.kind))
	return nil
}

// Deactivate pulses the off channel and marks the appliance OFF.
func (a *Appliance) Deactivate(ctx context.Context) error {
	if err := a.pulse(ctx, a.channels.Off); err != nil {
		return fmt.Errorf("%s off: %w", a.kind, err)
	}
	a.state = Off
	a.log.Infow("appliance off", "appliance", string(a.kind))
	return nil
}

// pulse asserts line, waits settle, de-asserts and waits release. The line is
// always de-asserted once asserted, even when ctx is cancelled mid-pulse.
func (a *Appliance) pulse(ctx context.Context, line int) error {
	if err := a.out.Write(line, true); err != nil {
		return err
	}
	waitErr := a.wait(ctx, a.settle)
	if err := a.out.Write(line, false); err != nil {
		return err
	}
	if waitErr != nil {
		return waitErr
	}
	return a.wait(ctx, a.release)
}

// Set is one of each appliance.
type Set struct {
	Heater *Appliance
	Cooler *Appliance
	Vent   *Appliance
}

// All returns the appliances in a fixed order.
func (s Set) All() []*Appliance {
	return []*Appliance{s.Heater, s.Cooler, s.Vent}
}

// AllOff pulses every appliance off regardless of its logical state.
// Every appliance is attempted; failures are joined.
func (s Set) AllOff(ctx context.Context) error {
	var errs []error
	for _, a := range s.All() {
		if a == nil {
			continue
		}
		if err := a.Deactivate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
