package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Thermostat    StateJSON  `json:"thermostat"`
	Counts        CountsJSON `json:"counts"`
	Config        ConfigJSON `json:"config"`
}

// StateJSON is the thermostat state. It is also the MQTT state payload.
type StateJSON struct {
	Mode      string        `json:"mode"`
	Demand    string        `json:"demand"`
	Format    string        `json:"format"`
	HouseTemp *float64      `json:"house_temp"`
	Desired   float64       `json:"desired_temp"`
	MinTemp   float64       `json:"min_temp"`
	MaxTemp   float64       `json:"max_temp"`
	Heater    string        `json:"heater"`
	Cooler    string        `json:"cooler"`
	Vent      string        `json:"vent"`
	Occupied  bool          `json:"occupied"`
	Present   []string      `json:"present,omitempty"`
	Forecast  *ForecastJSON `json:"forecast,omitempty"`
	Sensors   []SensorJSON  `json:"sensors"`
	LastCheck string        `json:"last_check,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
}

// ForecastJSON is the JSON representation of the forecast.
type ForecastJSON struct {
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Current   float64 `json:"current"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// SensorJSON is one sensor reading. Celsius is null without a reading.
type SensorJSON struct {
	Name     string   `json:"name"`
	Celsius  *float64 `json:"celsius"`
	Degraded bool     `json:"degraded,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of loop counters.
type CountsJSON struct {
	Ticks       int `json:"ticks"`
	Transitions int `json:"transitions"`
	Fallbacks   int `json:"sensor_fallbacks"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs   int64  `json:"tick_ms"`
	Broker   string `json:"broker"`
	HTTPPort string `json:"http_port"`
	Backend  string `json:"gpio_backend"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func buildState(th Thermostat) StateJSON {
	s := StateJSON{
		Mode:      orUnknown(string(th.Mode)),
		Demand:    orUnknown(string(th.Demand)),
		Format:    orUnknown(string(th.Format)),
		Desired:   th.Desired,
		MinTemp:   th.MinTemp,
		MaxTemp:   th.MaxTemp,
		Heater:    orUnknown(string(th.Heater)),
		Cooler:    orUnknown(string(th.Cooler)),
		Vent:      orUnknown(string(th.Vent)),
		Occupied:  th.Occupied,
		Present:   th.Present,
		Sensors:   make([]SensorJSON, 0, len(th.Sensors)),
		LastCheck: stamp(th.LastCheck),
		Timestamp: stamp(th.LastTick),
	}
	if th.HouseOK {
		v := th.HouseTemp
		s.HouseTemp = &v
	}
	if th.Forecast != nil {
		s.Forecast = &ForecastJSON{
			High:      th.Forecast.High,
			Low:       th.Forecast.Low,
			Current:   th.Forecast.Current,
			Timestamp: stamp(th.Forecast.At),
		}
	}
	for _, r := range th.Sensors {
		sj := SensorJSON{Name: r.Name, Degraded: r.Degraded}
		if r.Valid {
			c := round1(r.Celsius)
			sj.Celsius = &c
		}
		s.Sensors = append(s.Sensors, sj)
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Thermostat:    buildState(snap.Thermostat),
		Counts: CountsJSON{
			Ticks:       snap.Counts.Ticks,
			Transitions: snap.Counts.Transitions,
			Fallbacks:   snap.Counts.Fallbacks,
		},
		Config: ConfigJSON{
			TickMs:   snap.Config.TickMs,
			Broker:   snap.Config.Broker,
			HTTPPort: snap.Config.HTTPPort,
			Backend:  snap.Config.Backend,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatState returns the compact thermostat state published after each tick.
func FormatState(th Thermostat) ([]byte, error) {
	return json.Marshal(buildState(th))
}
