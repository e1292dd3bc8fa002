package sensor

import (
	"context"
	"time"

	"github.com/sweeney/thermostat/internal/adc"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/timer"
)

// Sampling defaults.
const (
	DefaultSamples = 10
	DefaultPause   = 100 * time.Millisecond
	DefaultMinRaw  = 30.0
	DefaultMaxRaw  = 60.0
)

// FallbackFunc returns the desired temperature in °F used to synthesize a
// reading for a sensor that has never produced a valid sample.
type FallbackFunc func() float64

// Outcome describes what a single ReadSensor call did to the sensor.
type Outcome int

const (
	// Updated means a fresh in-window reading was stored.
	Updated Outcome = iota
	// Rejected means the sample mean fell outside the plausibility window.
	Rejected
	// Retained means no valid samples arrived and the prior reading was kept.
	Retained
	// Synthesized means no valid samples ever arrived and the fallback was used.
	Synthesized
	// Missing means no valid samples, no prior reading and no fallback.
	Missing
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case Rejected:
		return "rejected"
	case Retained:
		return "retained"
	case Synthesized:
		return "synthesized"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// Options tunes sampling. Zero fields take the defaults. MinRaw and MaxRaw
// bound the sample mean on the ADC count scale; volt-input kinds are
// normalized before the check.
type Options struct {
	Samples int
	Pause   time.Duration
	MinRaw  float64
	MaxRaw  float64
}

func (o Options) withDefaults() Options {
	if o.Samples <= 0 {
		o.Samples = DefaultSamples
	}
	if o.Pause <= 0 {
		o.Pause = DefaultPause
	}
	if o.MinRaw == 0 && o.MaxRaw == 0 {
		o.MinRaw, o.MaxRaw = DefaultMinRaw, DefaultMaxRaw
	}
	return o
}

// Aggregator samples sensors through an adc.Reader and maintains their
// readings in a Registry.
type Aggregator struct {
	registry *Registry
	reader   adc.Reader
	fallback FallbackFunc
	wait     timer.Waiter
	opts     Options
	log      *logger.Logger
}

// NewAggregator wires an aggregator. A nil wait uses timer.Sleep.
func NewAggregator(reg *Registry, reader adc.Reader, fallback FallbackFunc, wait timer.Waiter, opts Options, log *logger.Logger) *Aggregator {
	if wait == nil {
		wait = timer.Sleep
	}
	return &Aggregator{
		registry: reg,
		reader:   reader,
		fallback: fallback,
		wait:     wait,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// Registry returns the underlying registry.
func (a *Aggregator) Registry() *Registry { return a.registry }

// ReadSensor samples one sensor and updates its reading. The only error
// returned is a context error; sensor faults are logged and absorbed.
func (a *Aggregator) ReadSensor(ctx context.Context, s *TemperatureSensor) (Outcome, error) {
	var sum float64
	valid := 0
	for i := 0; i < a.opts.Samples; i++ {
		if i > 0 {
			if err := a.wait(ctx, a.opts.Pause); err != nil {
				return Missing, err
			}
		}
		raw, _, err := a.reader.ReadRaw(s.channel)
		if err != nil {
			a.log.Debugw("sample failed", "sensor", s.name, "channel", s.channel, "error", err)
			continue
		}
		if raw == 0 {
			continue
		}
		sum += raw
		valid++
	}

	if valid == 0 {
		return a.dropout(s), nil
	}

	mean := sum / float64(valid)
	counts, err := s.kind.Counts(mean)
	if err != nil {
		a.log.Errorw("sensor conversion failed", "sensor", s.name, "error", err)
		return Rejected, nil
	}
	if counts <= a.opts.MinRaw || counts >= a.opts.MaxRaw {
		a.log.Warnw("sensor reading outside plausible range, keeping last value",
			"sensor", s.name, "raw", mean, "counts", counts, "min", a.opts.MinRaw, "max", a.opts.MaxRaw)
		return Rejected, nil
	}
	s.set(counts*lm35Factor, false)
	return Updated, nil
}

func (a *Aggregator) dropout(s *TemperatureSensor) Outcome {
	if s.valid {
		a.log.Warnw("no valid samples, keeping last value", "sensor", s.name, "celsius", s.celsius)
		return Retained
	}
	if a.fallback == nil {
		a.log.Errorw("no valid samples and no reading", "sensor", s.name)
		return Missing
	}
	desired := a.fallback()
	c := FahrenheitToCelsius(desired)
	s.set(c, true)
	a.log.Errorw("no valid samples, using desired temperature as fallback",
		"sensor", s.name, "desired_f", desired, "celsius", c)
	return Synthesized
}

// ReadAll reads every registered sensor in registration order.
func (a *Aggregator) ReadAll(ctx context.Context) error {
	for _, s := range a.registry.sensors {
		if _, err := a.ReadSensor(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// GroupTemperature resolves name against sensors first, then groups.
func (a *Aggregator) GroupTemperature(name string, scale Scale) (float64, bool) {
	return a.registry.Temperature(name, scale)
}
