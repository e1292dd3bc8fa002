// Package control runs one evaluation cycle of the thermostat: read sensors,
// refresh collaborators, recompute demand and desired temperature, decide
// and commit appliance transitions, publish telemetry.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/occupancy"
	"github.com/sweeney/thermostat/internal/sensor"
	"github.com/sweeney/thermostat/internal/status"
	"github.com/sweeney/thermostat/internal/store"
	"github.com/sweeney/thermostat/internal/weather"
)

// DefaultHold is the manual hold used when a command does not name one.
const DefaultHold = 2 * time.Hour

// Publisher is the telemetry sink.
type Publisher interface {
	PublishState(th status.Thermostat) error
}

// Store persists runtime settings and transitions.
type Store interface {
	SaveRuntime(ctx context.Context, rt engine.Runtime) error
	RecordTransition(ctx context.Context, tr store.Transition) error
}

// Metrics receives loop observations.
type Metrics interface {
	ObserveTick(th status.Thermostat)
	Transition(kind appliance.Kind, state appliance.State)
	VerifyAborted(kind appliance.Kind)
	SensorRead(name string, outcome sensor.Outcome)
	PublishFailed()
}

// Deps are the loop's collaborators. Weather, Occupancy, Publisher, Store,
// Metrics and Tracker are optional.
type Deps struct {
	Engine     *engine.Engine
	Sensors    *sensor.Aggregator
	Appliances appliance.Set
	Weather    *weather.Tracker
	Occupancy  *occupancy.Detector
	Publisher  Publisher
	Store      Store
	Metrics    Metrics
	Tracker    *status.Tracker
	Log        *logger.Logger

	// Season maps a date to an explicit season; nil means none.
	Season func(time.Time) engine.Season
	// HouseGroup is the group whose temperature drives decisions.
	HouseGroup string
	// DefaultHold applies to manual commands without a hold.
	DefaultHold time.Duration
}

// Loop is the single writer of engine and appliance state.
type Loop struct {
	d         Deps
	houseTemp float64
	houseOK   bool
	lastTick  time.Time
	lastFcast *weather.Forecast
	counts    status.Counts
}

// New validates deps and creates a Loop.
func New(d Deps) (*Loop, error) {
	if d.Engine == nil || d.Sensors == nil {
		return nil, errors.New("control: engine and sensors are required")
	}
	for _, a := range d.Appliances.All() {
		if a == nil {
			return nil, errors.New("control: heater, cooler and vent are required")
		}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Season == nil {
		d.Season = func(time.Time) engine.Season { return engine.NoSeason }
	}
	if d.HouseGroup == "" {
		d.HouseGroup = sensor.HouseGroup
	}
	if d.DefaultHold <= 0 {
		d.DefaultHold = DefaultHold
	}
	return &Loop{d: d}, nil
}

// HouseTemp returns the rounded house temperature from the last read.
func (l *Loop) HouseTemp() (float64, bool) { return l.houseTemp, l.houseOK }

// Counts returns the loop counters.
func (l *Loop) Counts() status.Counts { return l.counts }

// Startup forces every appliance off so logical and physical state agree.
func (l *Loop) Startup(ctx context.Context) error {
	err := l.d.Appliances.AllOff(ctx)
	if err != nil {
		l.d.Log.Errorw("startup all-off failed", "error", err)
	}
	return err
}

// Tick runs one evaluation cycle at now. It returns only context errors;
// every other fault is logged and the cycle continues.
func (l *Loop) Tick(ctx context.Context, now time.Time) error {
	if err := l.readHouse(ctx); err != nil {
		return err
	}
	if !l.houseOK {
		l.d.Log.Errorw("no house temperature, skipping actuation", "group", l.d.HouseGroup)
	}

	if l.d.Weather != nil {
		l.d.Weather.Refresh(ctx, now)
	}

	e := l.d.Engine
	if e.IsDue(now) {
		high, low := e.NoForecast()
		l.lastFcast = nil
		if f, ok := l.forecast(); ok {
			high, low = f.High, f.Low
			l.lastFcast = &f
		} else {
			l.d.Log.Errorw("no forecast for demand recomputation, using no-data bounds")
		}
		e.RecomputeDemandState(now, high, low, l.d.Season(now))
		l.persist(ctx)
	}

	if l.d.Occupancy != nil {
		l.d.Occupancy.Refresh(ctx, now)
	}

	if e.Mode() == engine.Auto {
		e.ComputeDesiredTemp(now, l.occupied())
	}

	if l.houseOK {
		for _, act := range e.Decide(l.inputs(now)).Actions {
			if err := l.commit(ctx, now, act); err != nil {
				return err
			}
		}
	}

	l.lastTick = now
	l.counts.Ticks++
	l.publish()
	return nil
}

func (l *Loop) forecast() (weather.Forecast, bool) {
	if l.d.Weather == nil {
		return weather.Forecast{}, false
	}
	return l.d.Weather.Forecast()
}

func (l *Loop) occupied() bool {
	return l.d.Occupancy != nil && l.d.Occupancy.Occupied()
}

// readHouse reads every sensor and recomputes the rounded house temperature.
func (l *Loop) readHouse(ctx context.Context) error {
	reg := l.d.Sensors.Registry()
	for _, s := range reg.Sensors() {
		out, err := l.d.Sensors.ReadSensor(ctx, s)
		if err != nil {
			return err
		}
		l.d.Metrics.SensorRead(s.Name(), out)
		if out == sensor.Synthesized {
			l.counts.Fallbacks++
		}
	}
	t, ok := l.d.Sensors.GroupTemperature(l.d.HouseGroup, l.d.Engine.Format())
	l.houseTemp, l.houseOK = math.Round(t), ok
	return nil
}

func (l *Loop) inputs(now time.Time) engine.Inputs {
	view := func(a *appliance.Appliance) engine.ApplianceView {
		return engine.ApplianceView{On: a.IsOn(), Due: a.IsDue(now)}
	}
	return engine.Inputs{
		Current: l.houseTemp,
		Heater:  view(l.d.Appliances.Heater),
		Cooler:  view(l.d.Appliances.Cooler),
		Vent:    view(l.d.Appliances.Vent),
	}
}

func (l *Loop) appliance(k appliance.Kind) *appliance.Appliance {
	switch k {
	case appliance.Heater:
		return l.d.Appliances.Heater
	case appliance.Cooler:
		return l.d.Appliances.Cooler
	}
	return l.d.Appliances.Vent
}

// commit optionally re-verifies, pulses and records one action. Pulse
// failures are logged and leave the appliance timer untouched.
func (l *Loop) commit(ctx context.Context, now time.Time, act engine.Action) error {
	e := l.d.Engine
	if act.Verify {
		if err := l.readHouse(ctx); err != nil {
			return err
		}
		if !l.houseOK || !act.When.Holds(l.houseTemp, e.DesiredTemp()) {
			l.d.Log.Infow("transition dropped after re-read",
				"appliance", string(act.Appliance), "target", string(act.Target),
				"house", l.houseTemp, "desired", e.DesiredTemp())
			l.d.Metrics.VerifyAborted(act.Appliance)
			return nil
		}
	}

	a := l.appliance(act.Appliance)
	var err error
	if act.Target == appliance.On {
		err = a.Activate(ctx)
	} else {
		err = a.Deactivate(ctx)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		l.d.Log.Errorw("appliance transition failed", "appliance", string(act.Appliance), "error", err)
		return nil
	}
	a.Update(now)
	l.counts.Transitions++
	l.d.Metrics.Transition(act.Appliance, act.Target)

	if l.d.Store != nil {
		tr := store.Transition{
			At:        now,
			Appliance: act.Appliance,
			State:     act.Target,
			Demand:    e.DemandState(),
			HouseTemp: l.houseTemp,
			Desired:   e.DesiredTemp(),
			Verified:  act.Verify,
		}
		if err := l.d.Store.RecordTransition(ctx, tr); err != nil {
			l.d.Log.Warnw("recording transition failed", "error", err)
		}
	}
	return nil
}

// Apply executes an operator command. It must run on the loop goroutine.
func (l *Loop) Apply(ctx context.Context, now time.Time, cmd Command) error {
	e := l.d.Engine
	switch cmd.Kind {
	case SetManual:
		if cmd.Hold < 0 || cmd.Hold > MaxHold {
			l.d.Log.Errorw("manual hold out of range", "hold", cmd.Hold.String())
			return fmt.Errorf("%w: hold %s", ErrInvalidCommand, cmd.Hold)
		}
		hold := cmd.Hold
		if hold == 0 {
			hold = l.d.DefaultHold
		}
		applied := e.SetManual(now, cmd.Desired, hold)
		l.d.Log.Infow("manual hold", "desired", applied, "hold", hold.String())
	case ResumeAuto:
		e.ResumeAuto()
		l.d.Log.Infow("returning to auto")
	default:
		l.d.Log.Errorw("unknown command", "kind", int(cmd.Kind))
		return ErrInvalidCommand
	}
	l.persist(ctx)
	l.publish()
	return nil
}

// Shutdown forces every appliance off and publishes a final state. The
// caller releases transport and hardware handles afterwards.
func (l *Loop) Shutdown(ctx context.Context) error {
	err := l.d.Appliances.AllOff(ctx)
	if err != nil {
		l.d.Log.Errorw("shutdown all-off failed", "error", err)
	}
	l.persist(ctx)
	l.publish()
	return err
}

func (l *Loop) persist(ctx context.Context) {
	if l.d.Store == nil {
		return
	}
	if err := l.d.Store.SaveRuntime(ctx, l.d.Engine.Runtime()); err != nil {
		l.d.Log.Warnw("saving runtime settings failed", "error", err)
	}
}

// State assembles the current thermostat state.
func (l *Loop) State() status.Thermostat {
	e := l.d.Engine
	th := status.Thermostat{
		Mode:      e.Mode(),
		Demand:    e.DemandState(),
		Format:    e.Format(),
		HouseTemp: l.houseTemp,
		HouseOK:   l.houseOK,
		Desired:   e.DesiredTemp(),
		MinTemp:   e.MinTemp(),
		MaxTemp:   e.MaxTemp(),
		Heater:    l.d.Appliances.Heater.State(),
		Cooler:    l.d.Appliances.Cooler.State(),
		Vent:      l.d.Appliances.Vent.State(),
		Occupied:  l.occupied(),
		LastTick:  l.lastTick,
		Counts:    l.counts,
	}
	if l.d.Occupancy != nil {
		th.Present = l.d.Occupancy.Present()
	}
	if last, ok := e.LastCheck(); ok {
		th.LastCheck = last
	}
	if f := l.lastFcast; f != nil {
		th.Forecast = &status.Forecast{High: f.High, Low: f.Low, Current: f.Current, At: f.At}
	}
	for _, s := range l.d.Sensors.Registry().Sensors() {
		c, ok := s.Celsius()
		th.Sensors = append(th.Sensors, status.SensorReading{
			Name: s.Name(), Celsius: c, Valid: ok, Degraded: s.Degraded(),
		})
	}
	return th
}

// publish updates the tracker and metrics and sends telemetry. Delivery
// failures are logged and never abort the loop.
func (l *Loop) publish() {
	th := l.State()
	if l.d.Tracker != nil {
		l.d.Tracker.Update(th)
	}
	l.d.Metrics.ObserveTick(th)
	if l.d.Publisher == nil {
		return
	}
	if err := l.d.Publisher.PublishState(th); err != nil {
		l.d.Log.Warnw("publishing state failed", "error", err)
		l.d.Metrics.PublishFailed()
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(status.Thermostat) {}
func (nopMetrics) Transition(appliance.Kind, appliance.State) {}
func (nopMetrics) VerifyAborted(appliance.Kind) {}
func (nopMetrics) SensorRead(string, sensor.Outcome) {}
func (nopMetrics) PublishFailed() {}
