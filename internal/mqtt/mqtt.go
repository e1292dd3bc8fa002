// Package mqtt publishes thermostat telemetry and receives commands and
// forecasts over MQTT, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/thermostat/internal/status"
)

// Topics.
const (
	// TopicState carries the thermostat state after every tick.
	TopicState = "home/thermostat/state"
	// TopicSystem carries retained lifecycle events.
	TopicSystem = "home/thermostat/system"
	// TopicCommand receives manual overrides.
	TopicCommand = "home/thermostat/set"
	// TopicForecast receives forecasts from the weather service.
	TopicForecast = "home/weather/forecast"
)

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// PublishState sends the thermostat state. Returns error if publishing
	// fails (should not crash the process).
	PublishState(th status.Thermostat) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers messages on a topic to a handler. Handlers run on the
// client's goroutine and must not touch loop-owned state.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{Event: event.Event, Reason: event.Reason}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// FormatStatePayload creates the JSON payload for the state topic.
func FormatStatePayload(th status.Thermostat) ([]byte, error) {
	return status.FormatState(th)
}

// willPayload is the retained last-will message sent by the broker when the
// daemon disappears without a clean shutdown.
func willPayload() []byte {
	data, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "CONNECTION_LOST"})
	return data
}
