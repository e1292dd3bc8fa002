// Package weather supplies forecast bounds to the engine. Forecasts arrive
// as JSON messages on an MQTT topic published by another service; the
// Tracker refreshes from its Source on its own Timer.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/timer"
)

// DefaultInterval is how often the Tracker refreshes.
const DefaultInterval = 20 * time.Minute

var (
	// ErrNoForecast means no forecast has been received.
	ErrNoForecast = errors.New("no forecast available")
	// ErrStale means the latest forecast is older than the allowed age.
	ErrStale = errors.New("forecast is stale")
)

// Forecast is the day's high/low and the current outdoor temperature.
type Forecast struct {
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Current float64   `json:"current"`
	At      time.Time `json:"timestamp"`
}

// Source supplies the latest forecast.
type Source interface {
	Fetch(ctx context.Context) (Forecast, error)
}

// ParseForecast decodes a forecast message. High and low are required.
func ParseForecast(payload []byte) (Forecast, error) {
	var raw struct {
		High    *float64  `json:"high"`
		Low     *float64  `json:"low"`
		Current float64   `json:"current"`
		At      time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Forecast{}, fmt.Errorf("decode forecast: %w", err)
	}
	if raw.High == nil || raw.Low == nil {
		return Forecast{}, errors.New("decode forecast: high and low are required")
	}
	if *raw.Low > *raw.High {
		return Forecast{}, fmt.Errorf("decode forecast: low %v above high %v", *raw.Low, *raw.High)
	}
	return Forecast{High: *raw.High, Low: *raw.Low, Current: raw.Current, At: raw.At}, nil
}

// Cache is a Source holding the most recent forecast message. Handle is
// called from the MQTT client goroutine; Fetch from the control loop.
type Cache struct {
	mu     sync.RWMutex
	latest Forecast
	have   bool
	maxAge time.Duration
	now    func() time.Time
	log    *logger.Logger
}

// NewCache creates an empty Cache. A zero maxAge disables the staleness
// check. A nil now uses time.Now.
func NewCache(maxAge time.Duration, now func() time.Time, log *logger.Logger) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{maxAge: maxAge, now: now, log: log}
}

// Handle parses and stores a forecast message. Malformed messages are
// logged and dropped.
func (c *Cache) Handle(payload []byte) {
	f, err := ParseForecast(payload)
	if err != nil {
		c.log.Warnw("dropping forecast message", "error", err)
		return
	}
	if f.At.IsZero() {
		f.At = c.now()
	}
	c.mu.Lock()
	c.latest = f
	c.have = true
	c.mu.Unlock()
}

// Fetch returns the latest forecast.
func (c *Cache) Fetch(ctx context.Context) (Forecast, error) {
	if err := ctx.Err(); err != nil {
		return Forecast{}, err
	}
	c.mu.RLock()
	f, have := c.latest, c.have
	c.mu.RUnlock()
	if !have {
		return Forecast{}, ErrNoForecast
	}
	if c.maxAge > 0 && c.now().Sub(f.At) > c.maxAge {
		return Forecast{}, fmt.Errorf("received %s: %w", f.At.Format(time.RFC3339), ErrStale)
	}
	return f, nil
}

// Tracker refreshes the forecast from a Source when its Timer is due.
type Tracker struct {
	source Source
	timer  *timer.Timer
	latest Forecast
	ok     bool
	log    *logger.Logger
}

// NewTracker creates a Tracker that is due immediately.
func NewTracker(source Source, interval time.Duration, log *logger.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{source: source, timer: timer.New(interval), log: log}
}

// IsDue reports whether a refresh is due.
func (t *Tracker) IsDue(now time.Time) bool { return t.timer.IsDue(now) }

// Timer exposes the refresh timer.
func (t *Tracker) Timer() *timer.Timer { return t.timer }

// Refresh fetches a new forecast if due and reports whether it fetched. A
// failed fetch clears the forecast so callers fall back to "no data".
func (t *Tracker) Refresh(ctx context.Context, now time.Time) bool {
	if !t.timer.IsDue(now) {
		return false
	}
	f, err := t.source.Fetch(ctx)
	t.timer.MarkTriggered(now)
	if err != nil {
		t.ok = false
		t.log.Errorw("forecast unavailable", "error", err)
		return true
	}
	t.latest, t.ok = f, true
	t.log.Debugw("forecast refreshed", "high", f.High, "low", f.Low, "current", f.Current)
	return true
}

// Forecast returns the last successful forecast, if the most recent
// refresh succeeded.
func (t *Tracker) Forecast() (Forecast, bool) {
	return t.latest, t.ok
}
