package adc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sweeney/thermostat/internal/logger"
)

// DefaultStreamMaxAge is how long a pushed value is served before the
// stream falls back to polling the REST API for that circuit.
const DefaultStreamMaxAge = time.Minute

// evokFilter asks EVOK to push analog input changes only.
var evokFilter = []byte(`{"cmd":"filter","devices":["ai"]}`)

// EvokStream serves analog inputs pushed over the EVOK websocket. Circuits
// with no recent push are read through the REST API instead.
type EvokStream struct {
	wsAddress     string
	circuitFormat string
	maxAge        time.Duration
	rest          *EvokReader
	now           func() time.Time

	mu     sync.RWMutex
	values map[string]pushed
}

type pushed struct {
	value float64
	at    time.Time
}

// NewEvokStream creates a stream for the EVOK instance at address (host:port).
// Call Run to start receiving pushes.
func NewEvokStream(address, circuitFormat string, maxAge time.Duration) *EvokStream {
	if circuitFormat == "" {
		circuitFormat = DefaultEvokCircuit
	}
	if maxAge <= 0 {
		maxAge = DefaultStreamMaxAge
	}
	return &EvokStream{
		wsAddress:     "ws://" + address + "/ws",
		circuitFormat: circuitFormat,
		maxAge:        maxAge,
		rest:          NewEvokReader(address, circuitFormat),
		now:           time.Now,
		values:        make(map[string]pushed),
	}
}

// ReadRaw returns the latest pushed value for the channel's circuit, or a
// REST reading when none arrived within the max age.
func (s *EvokStream) ReadRaw(channel int) (float64, time.Time, error) {
	circuit := fmt.Sprintf(s.circuitFormat, channel)
	s.mu.RLock()
	p, ok := s.values[circuit]
	s.mu.RUnlock()
	if ok && s.now().Sub(p.at) <= s.maxAge {
		return p.value, p.at, nil
	}
	return s.rest.ReadRaw(channel)
}

// Run keeps a websocket session open until ctx is done, reconnecting after
// retry when the connection fails.
func (s *EvokStream) Run(ctx context.Context, retry time.Duration, log *logger.Logger) {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warnw("EVOK stream disconnected", "address", s.wsAddress, "error", err, "retry", retry.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func (s *EvokStream) session(ctx context.Context) error {
	conn, br, _, err := ws.Dial(ctx, s.wsAddress)
	if err != nil {
		return fmt.Errorf("connecting to EVOK failed: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}

	if err := wsutil.WriteClientText(conn, evokFilter); err != nil {
		return fmt.Errorf("sending websocket filter to EVOK failed: %w", err)
	}
	for {
		payload, err := wsutil.ReadServerText(rw)
		if err != nil {
			return err
		}
		devices, err := parsePush(payload)
		if err != nil {
			continue
		}
		s.store(devices)
	}
}

func (s *EvokStream) store(devices []evokDevice) {
	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range devices {
		if d.Dev != "ai" {
			continue
		}
		s.values[d.Circuit] = pushed{value: d.Value, at: at}
	}
}

// parsePush accepts either a single device object or a list of them.
func parsePush(payload []byte) ([]evokDevice, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '[' {
		var list []evokDevice
		if err := json.Unmarshal(payload, &list); err != nil {
			return nil, fmt.Errorf("could not parse received data: %w", err)
		}
		return list, nil
	}
	var one evokDevice
	if err := json.Unmarshal(payload, &one); err != nil {
		return nil, fmt.Errorf("could not parse received data: %w", err)
	}
	return []evokDevice{one}, nil
}
