// Package status provides a thread-safe status tracker for the thermostat
// daemon. The control loop writes it once per tick; HTTP handlers and the
// MQTT lifecycle events read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/sensor"
)

// Config contains daemon configuration for display.
type Config struct {
	TickMs   int64
	Broker   string
	HTTPPort string
	Backend  string
}

// SensorReading is one sensor's state at the end of a tick.
type SensorReading struct {
	Name     string
	Celsius  float64
	Valid    bool
	Degraded bool
}

// Forecast is the forecast the engine last saw.
type Forecast struct {
	High    float64
	Low     float64
	Current float64
	At      time.Time
}

// Counts are cumulative loop counters.
type Counts struct {
	Ticks       int
	Transitions int
	Fallbacks   int
}

// Thermostat is the control-loop state published after every tick.
type Thermostat struct {
	Mode      engine.Mode
	Demand    engine.DemandState
	Format    sensor.Scale
	HouseTemp float64
	HouseOK   bool
	Desired   float64
	MinTemp   float64
	MaxTemp   float64
	Heater    appliance.State
	Cooler    appliance.State
	Vent      appliance.State
	Occupied  bool
	Present   []string
	Forecast  *Forecast
	Sensors   []SensorReading
	LastCheck time.Time
	LastTick  time.Time
	Counts    Counts
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Thermostat
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether at least one tick has produced a house temperature.
func (s Snapshot) Ready() bool {
	return !s.LastTick.IsZero() && s.HouseOK
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update replaces the thermostat state. Called from the control loop after
// every tick.
func (t *Tracker) Update(th Thermostat) {
	th.Present = append([]string(nil), th.Present...)
	th.Sensors = append([]SensorReading(nil), th.Sensors...)
	if th.Forecast != nil {
		f := *th.Forecast
		th.Forecast = &f
	}
	t.mu.Lock()
	t.snap.Thermostat = th
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
