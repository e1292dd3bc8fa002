package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/sensor"
)

// Season policies accepted by temperature.season, besides SUMMER and WINTER.
const (
	SeasonAuto = "auto"
	SeasonNone = "none"
)

// ADC backends accepted by adc.backend.
const (
	ADCBackendIIO  = "iio"
	ADCBackendEvok = "evok"
)

// Validate checks cross-field constraints viper cannot express.
func (s *Settings) Validate() error {
	if s.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", s.TickInterval)
	}
	if len(s.Sensors) == 0 {
		return fmt.Errorf("%w: sensors", ErrMissingKey)
	}
	if len(s.Groups[strings.ToLower(sensor.HouseGroup)]) == 0 {
		return fmt.Errorf("%w: groups.house has no members", ErrMissingKey)
	}
	if _, err := s.SeasonFunc(); err != nil {
		return err
	}
	switch s.ADC.Backend {
	case ADCBackendIIO:
	case ADCBackendEvok:
		if s.ADC.EvokAddress == "" {
			return fmt.Errorf("%w: adc.evok_address", ErrMissingKey)
		}
	default:
		return fmt.Errorf("unknown adc backend %q", s.ADC.Backend)
	}
	// EVOK analog inputs report volts; the IIO backend reports counts.
	volts := s.ADC.Backend == ADCBackendEvok
	for _, ss := range s.Sensors {
		k, err := sensor.ParseModuleKind(ss.Kind)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", ss.Name, err)
		}
		if k.Volts() != volts {
			return fmt.Errorf("sensor %s: module %s with adc backend %s: %w", ss.Name, k, s.ADC.Backend, ErrModuleBackend)
		}
	}
	return nil
}

// Engine builds the engine configuration.
func (s *Settings) Engine() (engine.Config, error) {
	t := s.Temperature
	format, err := sensor.ParseScale(t.Format)
	if err != nil {
		return engine.Config{}, err
	}
	cfg := engine.Config{
		MinTemp:     t.Min,
		MaxTemp:     t.Max,
		DefaultTemp: t.Default,
		Format:      format,
		Interval:    t.RecheckInterval,
		Thresholds: engine.Thresholds{
			CombinedHigh: t.Thresholds.CombinedHigh,
			CombinedLow:  t.Thresholds.CombinedLow,
			HighOnly:     t.Thresholds.HighOnly,
			LowOnly:      t.Thresholds.LowOnly,
		},
		Profiles:      make(map[engine.DemandState]engine.Profile, len(s.Profiles)),
		VerifyCooling: t.VerifyCooling,
		GateCooling:   t.GateCooling,
	}
	for name, p := range s.Profiles {
		d, err := engine.ParseDemandState(name)
		if err != nil {
			return engine.Config{}, fmt.Errorf("profiles.%s: %w", name, err)
		}
		prof := engine.Profile{Base: p.Base, Home: p.Home, Away: p.Away}
		for i, w := range p.Windows {
			start, err := parseHHMM(w.Start)
			if err != nil {
				return engine.Config{}, fmt.Errorf("profiles.%s.windows[%d].start: %w", name, i, err)
			}
			end, err := parseHHMM(w.End)
			if err != nil {
				return engine.Config{}, fmt.Errorf("profiles.%s.windows[%d].end: %w", name, i, err)
			}
			prof.Windows = append(prof.Windows, engine.Window{Start: start, End: end, Delta: w.Delta})
		}
		cfg.Profiles[d] = prof
	}
	return cfg, nil
}

func parseHHMM(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !engine.ValidHHMM(v) {
		return 0, fmt.Errorf("invalid HHMM %q", s)
	}
	return v, nil
}

// SeasonFunc maps temperature.season to the loop's season source: "auto"
// derives it from the month, "none" disables it, SUMMER or WINTER pins it.
func (s *Settings) SeasonFunc() (func(time.Time) engine.Season, error) {
	switch strings.ToLower(strings.TrimSpace(s.Temperature.Season)) {
	case SeasonAuto:
		return engine.SeasonFor, nil
	case SeasonNone, "":
		return func(time.Time) engine.Season { return engine.NoSeason }, nil
	}
	season, err := engine.ParseSeason(s.Temperature.Season)
	if err != nil {
		return nil, fmt.Errorf("temperature.season: %w", err)
	}
	return func(time.Time) engine.Season { return season }, nil
}

// Appliance builds the configuration of one appliance.
func (s *Settings) Appliance(kind appliance.Kind) (appliance.Config, error) {
	a, ok := s.Appliances[string(kind)]
	if !ok {
		return appliance.Config{}, fmt.Errorf("%w: appliances.%s", ErrMissingKey, kind)
	}
	return appliance.Config{
		Kind:     kind,
		Channels: appliance.Channels{On: a.On, Off: a.Off},
		Interval: a.Interval,
		Settle:   a.Settle,
		Release:  a.Release,
	}, nil
}

// OutputLines returns every configured relay line, sorted.
func (s *Settings) OutputLines() []int {
	var lines []int
	for _, a := range s.Appliances {
		lines = append(lines, a.On, a.Off)
	}
	sort.Ints(lines)
	return lines
}

// Registry builds the sensor registry and its groups.
func (s *Settings) Registry() (*sensor.Registry, error) {
	reg := sensor.NewRegistry()
	for _, ss := range s.Sensors {
		if _, err := reg.AddSensor(ss.Name, ss.Kind, ss.Channel); err != nil {
			return nil, fmt.Errorf("sensor %q: %w", ss.Name, err)
		}
	}
	names := make([]string, 0, len(s.Groups))
	for name := range s.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := reg.CreateGroup(name); err != nil {
			return nil, fmt.Errorf("group %q: %w", name, err)
		}
		for _, member := range s.Groups[name] {
			if err := reg.AddToGroup(name, member); err != nil {
				return nil, fmt.Errorf("group %q: %w", name, err)
			}
		}
	}
	return reg, nil
}

// SensorOptions returns the aggregator tuning.
func (s *Settings) SensorOptions() sensor.Options {
	return sensor.Options{
		Samples: s.Sampling.Samples,
		Pause:   s.Sampling.Pause,
		MinRaw:  s.Sampling.MinRaw,
		MaxRaw:  s.Sampling.MaxRaw,
	}
}
