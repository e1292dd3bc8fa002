// Package metrics exposes the control loop's state as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/sensor"
	"github.com/sweeney/thermostat/internal/status"
)

const namespace = "thermostat"

var demandStates = []engine.DemandState{engine.Off, engine.Heat, engine.Cool, engine.Vent}

// Metrics holds every collector. Methods are called from the control loop.
type Metrics struct {
	ticks          prometheus.Counter
	houseTemp      prometheus.Gauge
	desiredTemp    prometheus.Gauge
	occupied       prometheus.Gauge
	forecastHigh   prometheus.Gauge
	forecastLow    prometheus.Gauge
	demand         *prometheus.GaugeVec
	applianceOn    *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	verifyAborts   *prometheus.CounterVec
	sensorTemp     *prometheus.GaugeVec
	sensorOutcomes *prometheus.CounterVec
	publishErrors  prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop evaluations",
		}),
		houseTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "house_temperature",
			Help:      "Rounded HOUSE group temperature in the active format",
		}),
		desiredTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "desired_temperature",
			Help:      "Desired temperature in the active format",
		}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupied_binary",
			Help:      "Someone is home",
		}),
		forecastHigh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_high",
			Help:      "Forecast high used by the last demand recomputation",
		}),
		forecastLow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_low",
			Help:      "Forecast low used by the last demand recomputation",
		}),
		demand: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "demand_state",
			Help:      "1 for the active demand state",
		}, []string{"state"}),
		applianceOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "appliance_on_binary",
			Help:      "Logical appliance state",
		}, []string{"appliance"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appliance_transitions_total",
			Help:      "Committed appliance transitions",
		}, []string{"appliance", "state"}),
		verifyAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_aborts_total",
			Help:      "Transitions dropped because a fresh read no longer justified them",
		}, []string{"appliance"}),
		sensorTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_temperature_celsius",
			Help:      "Last stored sensor reading",
		}, []string{"sensor"}),
		sensorOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_reads_total",
			Help:      "Sensor reads by outcome",
		}, []string{"sensor", "outcome"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Telemetry publish failures",
		}),
	}

	reg.MustRegister(
		m.ticks, m.houseTemp, m.desiredTemp, m.occupied, m.forecastHigh, m.forecastLow,
		m.demand, m.applianceOn, m.transitions, m.verifyAborts,
		m.sensorTemp, m.sensorOutcomes, m.publishErrors,
	)
	return m
}

func binary(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ObserveTick records the state at the end of a tick.
func (m *Metrics) ObserveTick(th status.Thermostat) {
	m.ticks.Inc()
	if th.HouseOK {
		m.houseTemp.Set(th.HouseTemp)
	}
	m.desiredTemp.Set(th.Desired)
	m.occupied.Set(binary(th.Occupied))
	if th.Forecast != nil {
		m.forecastHigh.Set(th.Forecast.High)
		m.forecastLow.Set(th.Forecast.Low)
	}
	for _, d := range demandStates {
		m.demand.WithLabelValues(string(d)).Set(binary(th.Demand == d))
	}
	m.applianceOn.WithLabelValues(string(appliance.Heater)).Set(binary(th.Heater == appliance.On))
	m.applianceOn.WithLabelValues(string(appliance.Cooler)).Set(binary(th.Cooler == appliance.On))
	m.applianceOn.WithLabelValues(string(appliance.Vent)).Set(binary(th.Vent == appliance.On))
	for _, s := range th.Sensors {
		if s.Valid {
			m.sensorTemp.WithLabelValues(s.Name).Set(s.Celsius)
		}
	}
}

// Transition counts a committed appliance transition.
func (m *Metrics) Transition(kind appliance.Kind, state appliance.State) {
	m.transitions.WithLabelValues(string(kind), string(state)).Inc()
}

// VerifyAborted counts a transition dropped after re-verification.
func (m *Metrics) VerifyAborted(kind appliance.Kind) {
	m.verifyAborts.WithLabelValues(string(kind)).Inc()
}

// SensorRead counts a sensor read outcome.
func (m *Metrics) SensorRead(name string, outcome sensor.Outcome) {
	m.sensorOutcomes.WithLabelValues(name, outcome.String()).Inc()
}

// PublishFailed counts a telemetry or persistence failure.
func (m *Metrics) PublishFailed() {
	m.publishErrors.Inc()
}
