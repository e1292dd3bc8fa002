package internal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/thermostat/internal/adc"
	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/control"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/gpio"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/mqtt"
	"github.com/sweeney/thermostat/internal/sensor"
	"github.com/sweeney/thermostat/internal/status"
	"github.com/sweeney/thermostat/internal/store"
	"github.com/sweeney/thermostat/internal/timer"
	"github.com/sweeney/thermostat/internal/weather"
)

// Raw LM35 samples for whole-degree Fahrenheit readings.
const (
	raw66F = 38.68 // 18.89°C
	raw73F = 46.65 // 22.78°C
)

var (
	heaterLines = appliance.Channels{On: 17, Off: 27}
	startTime   = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
)

type system struct {
	engine *engine.Engine
	loop   *control.Loop
	reader *adc.FakeReader
	out    *gpio.FakeWriter
	pub    *mqtt.FakePublisher
	set    appliance.Set
}

func newSystem(t *testing.T, st control.Store) *system {
	t.Helper()
	log := logger.Nop()

	eng, err := engine.New(engine.Config{
		MinTemp:     65,
		MaxTemp:     78,
		DefaultTemp: 70,
		Profiles: map[engine.DemandState]engine.Profile{
			engine.Heat: {Base: 70},
			engine.Cool: {Base: 74},
		},
	}, log)
	if err != nil {
		t.Fatal(err)
	}

	reg := sensor.NewRegistry()
	for i, name := range []string{"living", "bedroom"} {
		if _, err := reg.AddSensor(name, "LM35", i); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := reg.CreateGroup(sensor.HouseGroup); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"living", "bedroom"} {
		if err := reg.AddToGroup(sensor.HouseGroup, name); err != nil {
			t.Fatal(err)
		}
	}
	reader := adc.NewFakeReader()
	agg := sensor.NewAggregator(reg, reader, eng.DesiredFahrenheit, timer.NoWait, sensor.Options{}, log)

	out := gpio.NewFakeWriter()
	mk := func(kind appliance.Kind, ch appliance.Channels) *appliance.Appliance {
		a, err := appliance.New(appliance.Config{Kind: kind, Channels: ch}, out, timer.NoWait, log)
		if err != nil {
			t.Fatal(err)
		}
		return a
	}
	set := appliance.Set{
		Heater: mk(appliance.Heater, heaterLines),
		Cooler: mk(appliance.Cooler, appliance.Channels{On: 22, Off: 23}),
		Vent:   mk(appliance.Vent, appliance.Channels{On: 24, Off: 25}),
	}

	pub := mqtt.NewFakePublisher()
	cache := weather.NewCache(0, nil, log)
	if err := pub.Subscribe(mqtt.TopicForecast, cache.Handle); err != nil {
		t.Fatal(err)
	}

	loop, err := control.New(control.Deps{
		Engine:     eng,
		Sensors:    agg,
		Appliances: set,
		Weather:    weather.NewTracker(cache, weather.DefaultInterval, log),
		Publisher:  pub,
		Store:      st,
		Tracker:    status.NewTracker(startTime, status.Config{}),
		Log:        log,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &system{engine: eng, loop: loop, reader: reader, out: out, pub: pub, set: set}
}

func (s *system) setTemp(raw float64) {
	s.reader.Constant(0, raw)
	s.reader.Constant(1, raw)
}

func (s *system) tick(t *testing.T, at time.Time) {
	t.Helper()
	if err := s.loop.Tick(context.Background(), at); err != nil {
		t.Fatalf("tick at %s: %v", at.Format(time.Kitchen), err)
	}
}

func decodeStates(t *testing.T, payloads [][]byte) []status.StateJSON {
	t.Helper()
	out := make([]status.StateJSON, 0, len(payloads))
	for i, p := range payloads {
		var s status.StateJSON
		if err := json.Unmarshal(p, &s); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		out = append(out, s)
	}
	return out
}

// TestIntegrationHeatingCycle runs forecast → demand → heater on → short-cycle
// hold → heater off, checking the published MQTT payloads.
func TestIntegrationHeatingCycle(t *testing.T) {
	sys := newSystem(t, nil)
	if !sys.pub.Deliver(mqtt.TopicForecast, []byte(`{"high":60,"low":20}`)) {
		t.Fatal("forecast topic not subscribed")
	}

	sys.setTemp(raw66F)
	sys.tick(t, startTime)
	if sys.engine.DemandState() != engine.Heat {
		t.Fatalf("demand = %s, want HEAT", sys.engine.DemandState())
	}

	sys.setTemp(raw73F)
	sys.tick(t, startTime.Add(time.Minute))
	sys.tick(t, startTime.Add(appliance.DefaultInterval))

	states := decodeStates(t, sys.pub.Payloads)
	if len(states) != 3 {
		t.Fatalf("expected 3 state payloads, got %d", len(states))
	}
	wantHeater := []string{"ON", "ON", "OFF"}
	wantHouse := []float64{66, 73, 73}
	for i, s := range states {
		if s.Heater != wantHeater[i] {
			t.Errorf("payload %d: heater %s, want %s", i, s.Heater, wantHeater[i])
		}
		if s.HouseTemp == nil || *s.HouseTemp != wantHouse[i] {
			t.Errorf("payload %d: house temp %v, want %v", i, s.HouseTemp, wantHouse[i])
		}
		if s.Demand != "HEAT" || s.Desired != 70 {
			t.Errorf("payload %d: demand %s desired %v", i, s.Demand, s.Desired)
		}
	}
	if states[0].Forecast == nil || states[0].Forecast.Low != 20 {
		t.Errorf("forecast in payload = %+v", states[0].Forecast)
	}
	if len(states[0].Sensors) != 2 {
		t.Errorf("sensors in payload = %+v", states[0].Sensors)
	}

	if sys.out.Pulses(heaterLines.On) != 1 || sys.out.Pulses(heaterLines.Off) != 1 {
		t.Errorf("heater pulses on=%d off=%d, want 1 each",
			sys.out.Pulses(heaterLines.On), sys.out.Pulses(heaterLines.Off))
	}
	if sys.loop.Counts().Transitions != 2 {
		t.Errorf("transitions = %d, want 2", sys.loop.Counts().Transitions)
	}
}

// TestIntegrationCoolingWithoutForecast uses the month heuristic in summer.
func TestIntegrationCoolingWithoutForecast(t *testing.T) {
	sys := newSystem(t, nil)
	july := time.Date(2026, time.July, 4, 15, 0, 0, 0, time.UTC)

	sys.setTemp(raw73F)
	sys.tick(t, july)
	if sys.engine.DemandState() != engine.Cool {
		t.Fatalf("demand = %s, want COOL", sys.engine.DemandState())
	}
	// 73 < 74: the cooler stays off.
	if sys.set.Cooler.IsOn() {
		t.Error("cooler should stay off below the cooling target")
	}

	sys.setTemp(raw66F)
	sys.tick(t, july.Add(time.Minute))
	if sys.set.Cooler.IsOn() || sys.set.Heater.IsOn() {
		t.Error("nothing should run when cool demand meets a cold house")
	}
}

// TestIntegrationOverridePersistsAcrossRestart applies a manual command,
// shuts down and restores the runtime in a fresh engine.
func TestIntegrationOverridePersistsAcrossRestart(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "thermostat.db"))
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(db)
	defer st.Close()

	sys := newSystem(t, st)
	sys.setTemp(raw66F)
	sys.tick(t, startTime)

	cmd, err := control.ParseCommand([]byte(`{"mode":"MANUAL","desired":76,"hold_minutes":180}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.loop.Apply(context.Background(), startTime.Add(time.Minute), cmd); err != nil {
		t.Fatal(err)
	}
	sys.tick(t, startTime.Add(3*time.Minute))
	if err := sys.loop.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, a := range sys.set.All() {
		if a.IsOn() {
			t.Errorf("%s still on after shutdown", a.Kind())
		}
	}

	rt, ok, err := st.LoadRuntime(context.Background())
	if err != nil || !ok {
		t.Fatalf("LoadRuntime: %v, %v", ok, err)
	}
	restarted := newSystem(t, st)
	if err := restarted.engine.Restore(rt); err != nil {
		t.Fatal(err)
	}
	if restarted.engine.Mode() != engine.Manual || restarted.engine.DesiredTemp() != 76 {
		t.Errorf("restored mode %s desired %v", restarted.engine.Mode(), restarted.engine.DesiredTemp())
	}
	if restarted.engine.IsDue(startTime.Add(2 * time.Hour)) {
		t.Error("restored hold should still be active")
	}
	if !restarted.engine.IsDue(startTime.Add(time.Minute + 3*time.Hour)) {
		t.Error("restored hold should expire after three hours")
	}

	trs, err := st.Transitions(context.Background(), time.Time{}, time.Time{}, appliance.Heater)
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) == 0 || trs[0].State != appliance.On || !trs[0].Verified {
		t.Errorf("heater transitions = %+v", trs)
	}
}
