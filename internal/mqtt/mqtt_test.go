package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/status"
)

func sampleState() status.Thermostat {
	return status.Thermostat{
		Mode:      engine.Auto,
		Demand:    engine.Heat,
		Format:    "F",
		HouseTemp: 68,
		HouseOK:   true,
		Desired:   70,
		Heater:    appliance.On,
		Cooler:    appliance.Off,
		Vent:      appliance.Off,
	}
}

func TestTopics(t *testing.T) {
	topics := map[string]string{
		TopicState:    "home/thermostat/state",
		TopicSystem:   "home/thermostat/system",
		TopicCommand:  "home/thermostat/set",
		TopicForecast: "home/weather/forecast",
	}
	for got, want := range topics {
		if got != want {
			t.Errorf("topic: got %q, want %q", got, want)
		}
	}
}

func TestFormatStatePayload(t *testing.T) {
	payload, err := FormatStatePayload(sampleState())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed status.StateJSON
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Demand != "HEAT" || parsed.Heater != "ON" || parsed.Mode != "AUTO" {
		t.Errorf("unexpected payload: %s", payload)
	}
	if parsed.HouseTemp == nil || *parsed.HouseTemp != 68 {
		t.Errorf("house_temp: got %v", parsed.HouseTemp)
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 1, 2, 3, 0, time.FixedZone("EST", -5*3600)),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"system":{"timestamp":"2026-02-03T06:02:03Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != want {
		t.Errorf("got %s, want %s", payload, want)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "IGNORED", RawPayload: raw})
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestWillPayloadFormat(t *testing.T) {
	want := `{"system":{"event":"OFFLINE","reason":"CONNECTION_LOST"}}`
	if got := string(willPayload()); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	if err := f.PublishState(sampleState()); err != nil {
		t.Fatal(err)
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if len(f.States) != 1 || len(f.Payloads) != 1 {
		t.Errorf("states: %d payloads: %d", len(f.States), len(f.Payloads))
	}
	if len(f.SystemEvents) != 1 || !f.SystemEvents[0].Retained {
		t.Errorf("system events: %+v", f.SystemEvents)
	}
	want := []string{"state", "system", "close"}
	for i, op := range want {
		if f.Ops[i] != op {
			t.Errorf("op %d: got %s, want %s", i, f.Ops[i], op)
		}
	}
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("broker down")

	if err := f.PublishState(sampleState()); err == nil {
		t.Error("expected PublishState error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP"}); err == nil {
		t.Error("expected PublishSystem error")
	}
	if len(f.States) != 0 || len(f.SystemEvents) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherSubscribeDeliver(t *testing.T) {
	f := NewFakePublisher()
	var got []byte
	if err := f.Subscribe(TopicCommand, func(p []byte) { got = p }); err != nil {
		t.Fatal(err)
	}
	if !f.Deliver(TopicCommand, []byte(`{"mode":"AUTO"}`)) {
		t.Fatal("expected handler for command topic")
	}
	if string(got) != `{"mode":"AUTO"}` {
		t.Errorf("handler got %s", got)
	}
	if f.Deliver(TopicForecast, nil) {
		t.Error("no handler expected for forecast topic")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.PublishState(sampleState())
	f.Subscribe(TopicCommand, func([]byte) {})
	f.Connected = true
	f.Close()
	f.Reset()

	if len(f.States) != 0 || len(f.Ops) != 0 || len(f.Handlers) != 0 || f.Closed || f.Connected {
		t.Errorf("reset incomplete: %+v", f)
	}
}
