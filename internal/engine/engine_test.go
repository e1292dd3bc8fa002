package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/sensor"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var july = time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MinTemp:     65,
		MaxTemp:     78,
		DefaultTemp: 70,
		Format:      sensor.Fahrenheit,
		Profiles: map[DemandState]Profile{
			Heat: {Base: 68, Windows: []Window{{Start: 2200, End: 600, Delta: -3}}, Home: 2, Away: -4},
			Cool: {Base: 74, Windows: []Window{{Start: 1200, End: 1700, Delta: 2}}, Home: -1, Away: 4},
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(testConfig(), logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewValidation(t *testing.T) {
	bad := []func(c *Config){
		func(c *Config) { c.MinTemp = 80 },
		func(c *Config) { c.DefaultTemp = 90 },
		func(c *Config) { c.Format = "K" },
		func(c *Config) { c.Profiles = map[DemandState]Profile{"HOT": {}} },
		func(c *Config) { c.Profiles = map[DemandState]Profile{Heat: {Windows: []Window{{Start: 2500, End: 100}}}} },
	}
	for i, mutate := range bad {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := New(cfg, logger.Nop()); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestInitialState(t *testing.T) {
	e := newTestEngine(t)
	if e.Mode() != Auto || e.DemandState() != Off || e.DesiredTemp() != 70 {
		t.Errorf("got mode=%s demand=%s desired=%v", e.Mode(), e.DemandState(), e.DesiredTemp())
	}
	if !e.IsDue(july) {
		t.Error("new engine should be due")
	}
	if e.Timer().Interval() != DefaultInterval {
		t.Errorf("interval: got %v, want %v", e.Timer().Interval(), DefaultInterval)
	}
}

func TestParsers(t *testing.T) {
	if m, err := ParseMode("manual"); err != nil || m != Manual {
		t.Errorf("ParseMode: %q %v", m, err)
	}
	if _, err := ParseMode("eco"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("ParseMode(eco): %v", err)
	}
	if d, err := ParseDemandState("vent"); err != nil || d != Vent {
		t.Errorf("ParseDemandState: %q %v", d, err)
	}
	if _, err := ParseDemandState("DRY"); !errors.Is(err, ErrInvalidDemand) {
		t.Errorf("ParseDemandState(DRY): %v", err)
	}
	if s, err := ParseSeason(""); err != nil || s != NoSeason {
		t.Errorf("ParseSeason empty: %q %v", s, err)
	}
	if _, err := ParseSeason("spring"); !errors.Is(err, ErrInvalidSeason) {
		t.Errorf("ParseSeason(spring): %v", err)
	}
}

func TestSettersRejectInvalid(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetMode("EXPLODE"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("SetMode: %v", err)
	}
	if err := e.SetDemandState("WARM"); !errors.Is(err, ErrInvalidDemand) {
		t.Errorf("SetDemandState: %v", err)
	}
	if err := e.SetFormat("K"); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("SetFormat: %v", err)
	}
	if e.Mode() != Auto || e.DemandState() != Off || e.Format() != sensor.Fahrenheit {
		t.Error("invalid setter mutated state")
	}
	if err := e.SetFormat(sensor.Celsius); err != nil || e.Format() != sensor.Celsius {
		t.Errorf("SetFormat(C): %v", err)
	}
}

func TestSetDesiredTempClamps(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e, _ := New(testConfig(), logger.FromCore(core))

	tests := []struct {
		in, want float64
	}{
		{72, 72},
		{65, 65},
		{78, 78},
		{40, 65},
		{99, 78},
	}
	for _, tt := range tests {
		if got := e.SetDesiredTemp(tt.in); got != tt.want || e.DesiredTemp() != tt.want {
			t.Errorf("SetDesiredTemp(%v): got %v, want %v", tt.in, got, tt.want)
		}
	}
	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 2 {
		t.Errorf("expected 2 clamp corrections logged, got %d", n)
	}
}

func TestComputeDesiredTempAlwaysClamped(t *testing.T) {
	for _, delta := range []float64{-100, -30, -5, 0, 5, 30, 100} {
		for _, demand := range []DemandState{Off, Heat, Cool, Vent} {
			cfg := testConfig()
			cfg.Profiles = map[DemandState]Profile{
				Heat: {Base: 68, Windows: []Window{{Start: 0, End: 2359, Delta: delta}}, Home: delta},
				Cool: {Base: 74, Windows: []Window{{Start: 0, End: 2359, Delta: delta}}, Away: delta},
				Vent: {Base: 70 + delta},
			}
			e, _ := New(cfg, logger.Nop())
			e.SetDemandState(demand)
			for _, occupied := range []bool{true, false} {
				got := e.ComputeDesiredTemp(july, occupied)
				if got < e.MinTemp() || got > e.MaxTemp() {
					t.Errorf("delta %v demand %s occupied %v: %v outside [%v, %v]",
						delta, demand, occupied, got, e.MinTemp(), e.MaxTemp())
				}
			}
		}
	}
}

func TestComputeDesiredTemp(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 1, 10, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name     string
		demand   DemandState
		now      time.Time
		occupied bool
		want     float64
	}{
		{"off uses default", Off, at(23, 0), true, 70},
		{"heat home daytime", Heat, at(10, 0), true, 70},
		{"heat away daytime", Heat, at(10, 0), false, 65},
		{"heat home night wraps midnight", Heat, at(23, 30), true, 67},
		{"heat home early morning", Heat, at(6, 0), true, 67},
		{"heat home after window", Heat, at(6, 1), true, 70},
		{"cool home afternoon", Cool, at(12, 0), true, 75},
		{"cool home window end inclusive", Cool, at(17, 0), true, 75},
		{"cool away afternoon clamps", Cool, at(15, 0), false, 78},
		{"vent without profile uses default", Vent, at(12, 0), true, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			e.SetDemandState(tt.demand)
			if got := e.ComputeDesiredTemp(tt.now, tt.occupied); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecomputeDemandState(t *testing.T) {
	tests := []struct {
		name      string
		high, low float64
		season    Season
		now       time.Time
		want      DemandState
	}{
		{"summer", 50, 40, Summer, july, Cool},
		{"winter", 100, 90, Winter, july, Heat},
		{"both exceeded, high more severe", 95, 40, NoSeason, july, Cool},
		{"both exceeded, low more severe", 90, 30, NoSeason, july, Heat},
		{"both exceeded, tie goes to cool", 93, 35, NoSeason, july, Cool},
		{"high only", 84, 60, NoSeason, july, Cool},
		{"high only wins over mild low", 85, 40, NoSeason, july, Cool},
		{"low only", 80, 49, NoSeason, july, Heat},
		{"inconclusive", 80, 55, NoSeason, july, Off},
		{"high on threshold is not exceeded", 83, 60, NoSeason, july, Off},
		{"no forecast in july", 78, 65, NoSeason, july, Cool},
		{"no forecast in october", 78, 65, NoSeason, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), Heat},
		{"no forecast in april", 78, 65, NoSeason, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), Heat},
		{"no forecast in september", 78, 65, NoSeason, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), Cool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			if got := e.RecomputeDemandState(tt.now, tt.high, tt.low, tt.season); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			last, ok := e.LastCheck()
			if !ok || !last.Equal(tt.now) {
				t.Errorf("lastCheck: got %v/%v, want %v", last, ok, tt.now)
			}
		})
	}
}

func TestRecomputeConfigurableThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds = Thresholds{CombinedHigh: 30, CombinedLow: -30, HighOnly: 1, LowOnly: -1}
	e, _ := New(cfg, logger.Nop())
	if got := e.RecomputeDemandState(july, 80, 70, NoSeason); got != Cool {
		t.Errorf("got %s, want COOL with a 1 degree high threshold", got)
	}
}

func TestRecomputeGatedByCaller(t *testing.T) {
	e := newTestEngine(t)
	recompute := func(now time.Time, high, low float64) {
		if e.IsDue(now) {
			e.RecomputeDemandState(now, high, low, NoSeason)
		}
	}
	recompute(july, 95, 40)
	first, _ := e.LastCheck()
	state := e.DemandState()

	recompute(july.Add(time.Second), 80, 49)
	second, _ := e.LastCheck()
	if e.DemandState() != state || !second.Equal(first) {
		t.Errorf("second recompute inside interval changed state: %s at %v", e.DemandState(), second)
	}
}

func TestManualHoldReturnsToAuto(t *testing.T) {
	e := newTestEngine(t)
	e.RecomputeDemandState(july, 95, 40, NoSeason)

	e.SetManual(july.Add(time.Hour), 99, 2*time.Hour)
	if e.Mode() != Manual || e.DesiredTemp() != 78 {
		t.Fatalf("got mode=%s desired=%v", e.Mode(), e.DesiredTemp())
	}
	if e.IsDue(july.Add(2*time.Hour + 59*time.Minute)) {
		t.Error("should not be due during hold")
	}
	end := july.Add(3 * time.Hour)
	if !e.IsDue(end) {
		t.Fatal("should be due when hold expires")
	}
	e.RecomputeDemandState(end, 95, 40, NoSeason)
	if e.Mode() != Auto {
		t.Errorf("mode: got %s, want AUTO", e.Mode())
	}
	if e.Timer().Interval() != DefaultInterval {
		t.Errorf("interval not reset: %v", e.Timer().Interval())
	}
}

func TestResumeAuto(t *testing.T) {
	e := newTestEngine(t)
	e.SetManual(july, 72, time.Hour)
	e.ResumeAuto()
	if e.Mode() != Auto || !e.IsDue(july) {
		t.Errorf("got mode=%s due=%v", e.Mode(), e.IsDue(july))
	}
}

func TestRuntimeRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	e.RecomputeDemandState(july, 95, 40, NoSeason)
	e.SetManual(july, 72, 4*time.Hour)
	rt := e.Runtime()
	if rt.Hold != 4*time.Hour || rt.Mode != Manual || rt.Demand != Cool {
		t.Fatalf("unexpected runtime %+v", rt)
	}

	other := newTestEngine(t)
	if err := other.Restore(rt); err != nil {
		t.Fatal(err)
	}
	if other.Runtime() != rt {
		t.Errorf("restore mismatch: got %+v, want %+v", other.Runtime(), rt)
	}
	if other.IsDue(july.Add(3 * time.Hour)) {
		t.Error("restored hold should still be active")
	}
}

func TestRestoreRejectsInvalid(t *testing.T) {
	e := newTestEngine(t)
	err := e.Restore(Runtime{Mode: "BOGUS", Demand: Heat, Desired: 71, Format: sensor.Fahrenheit})
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
	if e.Mode() != Auto || e.DemandState() != Heat || e.DesiredTemp() != 71 {
		t.Errorf("partial restore: mode=%s demand=%s desired=%v", e.Mode(), e.DemandState(), e.DesiredTemp())
	}
}

func TestRestoreIgnoresSavedFormat(t *testing.T) {
	cfg := Config{MinTemp: 18, MaxTemp: 26, DefaultTemp: 21, Format: sensor.Celsius}
	core, logs := observer.New(zapcore.WarnLevel)
	e, err := New(cfg, logger.FromCore(core))
	if err != nil {
		t.Fatal(err)
	}
	saved := Runtime{Mode: Manual, Demand: Heat, Desired: 70, Format: sensor.Fahrenheit, Hold: 4 * time.Hour, LastCheck: july}

	err = e.Restore(saved)
	if !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("expected ErrFormatMismatch, got %v", err)
	}
	if e.Format() != sensor.Celsius {
		t.Errorf("format = %s, want configured C", e.Format())
	}
	if e.DesiredTemp() != 21 || e.Mode() != Auto {
		t.Errorf("setpoint kept across formats: mode=%s desired=%v", e.Mode(), e.DesiredTemp())
	}
	if e.DemandState() != Heat {
		t.Errorf("demand = %s, want HEAT", e.DemandState())
	}
	if e.Timer().Overridden() {
		t.Error("manual hold restored across formats")
	}
	if logs.FilterMessageSnippet("different temperature format").Len() != 1 {
		t.Errorf("expected one format warning, got %d entries", logs.Len())
	}
}

func TestNewRejectsBadThresholds(t *testing.T) {
	bad := []Thresholds{
		{CombinedHigh: 0, CombinedLow: -20, HighOnly: 5, LowOnly: -15},
		{CombinedHigh: 10, CombinedLow: 0, HighOnly: 5, LowOnly: -15},
		{CombinedHigh: 10, CombinedLow: 20, HighOnly: 5, LowOnly: -15},
		{CombinedHigh: 10, CombinedLow: -20, HighOnly: -5, LowOnly: -15},
		{CombinedHigh: 10, CombinedLow: -20, HighOnly: 5, LowOnly: 15},
	}
	for i, th := range bad {
		cfg := testConfig()
		cfg.Thresholds = th
		if _, err := New(cfg, logger.Nop()); !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("case %d: expected ErrInvalidThreshold, got %v", i, err)
		}
	}
}

func TestSeasonFor(t *testing.T) {
	want := map[time.Month]Season{
		time.January: Winter, time.March: Winter, time.April: NoSeason,
		time.May: Summer, time.August: Summer, time.September: NoSeason,
		time.October: Winter, time.December: Winter,
	}
	for m, s := range want {
		if got := SeasonFor(time.Date(2026, m, 1, 0, 0, 0, 0, time.UTC)); got != s {
			t.Errorf("%s: got %q, want %q", m, got, s)
		}
	}
}

func TestWindowContains(t *testing.T) {
	day := Window{Start: 800, End: 1700}
	night := Window{Start: 2200, End: 600}
	cases := []struct {
		w    Window
		hhmm int
		want bool
	}{
		{day, 800, true}, {day, 1700, true}, {day, 759, false}, {day, 1701, false},
		{night, 2200, true}, {night, 0, true}, {night, 600, true}, {night, 1200, false},
	}
	for _, c := range cases {
		if got := c.w.Contains(c.hhmm); got != c.want {
			t.Errorf("%+v.Contains(%d): got %v, want %v", c.w, c.hhmm, got, c.want)
		}
	}
}

func TestDesiredFahrenheit(t *testing.T) {
	cfg := testConfig()
	cfg.MinTemp, cfg.MaxTemp, cfg.DefaultTemp = 15, 30, 20
	cfg.Format = sensor.Celsius
	e, err := New(cfg, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := e.DesiredFahrenheit(); math.Abs(got-68) > 1e-9 {
		t.Errorf("got %v, want 68", got)
	}
}
