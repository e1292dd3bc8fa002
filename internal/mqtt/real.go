package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/status"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	log    *logger.Logger

	mu     sync.Mutex
	buffer *ringBuffer
	subs   map[string]paho.MessageHandler
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(o Options, log *logger.Logger) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "thermostat"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		log:    log,
		buffer: newRingBuffer(o.BufferSize, log),
		subs:   make(map[string]paho.MessageHandler),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(willPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "error", err)
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// With connect retry the client keeps trying; publishes are buffered.
		log.Warnw("mqtt broker not reachable yet, retrying in background", "broker", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect restores subscriptions and replays buffered messages.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	pending := p.buffer.drainAll()
	subs := make(map[string]paho.MessageHandler, len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	p.mu.Unlock()

	for topic, h := range subs {
		if tok := c.Subscribe(topic, 1, h); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
			p.log.Errorw("mqtt resubscribe failed", "topic", topic, "error", tok.Error())
		}
	}
	for _, m := range pending {
		tok := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
			p.log.Warnw("mqtt replay failed", "topic", m.topic, "error", tok.Error())
		}
	}
	p.log.Infow("mqtt connected", "replayed", len(pending), "subscriptions", len(subs))
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishState sends the thermostat state to the MQTT broker.
func (p *RealPublisher) PublishState(th status.Thermostat) error {
	payload, err := FormatStatePayload(th)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	// QoS 0 (at-most-once), retained so new subscribers see the latest state
	return p.publish(TopicState, 0, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// Subscribe registers handler for topic. The subscription is restored after
// every reconnect.
func (p *RealPublisher) Subscribe(topic string, handler func(payload []byte)) error {
	h := func(_ paho.Client, m paho.Message) { handler(m.Payload()) }
	p.mu.Lock()
	p.subs[topic] = h
	p.mu.Unlock()

	token := p.client.Subscribe(topic, 1, h)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
