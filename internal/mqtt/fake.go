package mqtt

import "github.com/sweeney/thermostat/internal/status"

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// States contains all thermostat states that were published.
	States []status.Thermostat

	// Payloads contains the JSON payloads for state messages.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Ops records "state", "system" and "close" calls in order.
	Ops []string

	// Handlers holds subscriptions by topic.
	Handlers map[string]func([]byte)

	// PublishError, if set, will be returned by PublishState.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Handlers: make(map[string]func([]byte))}
}

// PublishState records the thermostat state.
func (f *FakePublisher) PublishState(th status.Thermostat) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatStatePayload(th)
	if err != nil {
		return err
	}
	f.States = append(f.States, th)
	f.Payloads = append(f.Payloads, payload)
	f.Ops = append(f.Ops, "state")
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	f.Ops = append(f.Ops, "system")
	return nil
}

// Subscribe records the handler.
func (f *FakePublisher) Subscribe(topic string, handler func([]byte)) error {
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.Handlers[topic] = handler
	return nil
}

// Deliver invokes the handler subscribed to topic, if any.
func (f *FakePublisher) Deliver(topic string, payload []byte) bool {
	h, ok := f.Handlers[topic]
	if ok {
		h(payload)
	}
	return ok
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	f.Ops = append(f.Ops, "close")
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.States = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Ops = nil
	f.Handlers = make(map[string]func([]byte))
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.SubscribeError = nil
	f.Connected = false
}
