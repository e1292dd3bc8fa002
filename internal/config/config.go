// Package config loads thermostat settings from YAML with viper. A default
// file ships with the daemon; a user overlay, when present, is merged on top
// and environment variables prefixed THERMOSTAT_ override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/sweeney/thermostat/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. THERMOSTAT_MQTT_BROKER.
const EnvPrefix = "THERMOSTAT"

// ErrMissingKey is returned when a required setting is absent.
var ErrMissingKey = errors.New("missing required setting")

// ErrModuleBackend is returned when a sensor's module kind cannot be read
// through the configured ADC backend.
var ErrModuleBackend = errors.New("sensor module does not match adc backend")

// Settings is the typed view of the configuration.
type Settings struct {
	LogLevel     string                       `mapstructure:"log_level"`
	TickInterval time.Duration                `mapstructure:"tick_interval"`
	Temperature  TemperatureSettings          `mapstructure:"temperature"`
	Profiles     map[string]ProfileSettings   `mapstructure:"profiles"`
	Sensors      []SensorSettings             `mapstructure:"sensors"`
	Groups       map[string][]string          `mapstructure:"groups"`
	Sampling     SamplingSettings             `mapstructure:"sampling"`
	ADC          ADCSettings                  `mapstructure:"adc"`
	GPIO         GPIOSettings                 `mapstructure:"gpio"`
	Appliances   map[string]ApplianceSettings `mapstructure:"appliances"`
	MQTT         MQTTSettings                 `mapstructure:"mqtt"`
	Weather      WeatherSettings              `mapstructure:"weather"`
	Occupancy    OccupancySettings            `mapstructure:"occupancy"`
	Store        StoreSettings                `mapstructure:"store"`
	HTTP         HTTPSettings                 `mapstructure:"http"`
}

// TemperatureSettings bounds and schedules the engine.
type TemperatureSettings struct {
	Min             float64            `mapstructure:"min"`
	Max             float64            `mapstructure:"max"`
	Default         float64            `mapstructure:"default"`
	Format          string             `mapstructure:"format"`
	RecheckInterval time.Duration      `mapstructure:"recheck_interval"`
	DefaultHold     time.Duration      `mapstructure:"default_hold"`
	Season          string             `mapstructure:"season"`
	Thresholds      ThresholdsSettings `mapstructure:"thresholds"`
	VerifyCooling   bool               `mapstructure:"verify_cooling"`
	GateCooling     bool               `mapstructure:"gate_cooling"`
}

// ThresholdsSettings are the forecast deltas used for demand recomputation.
type ThresholdsSettings struct {
	CombinedHigh float64 `mapstructure:"combined_high"`
	CombinedLow  float64 `mapstructure:"combined_low"`
	HighOnly     float64 `mapstructure:"high_only"`
	LowOnly      float64 `mapstructure:"low_only"`
}

// ProfileSettings is the desired-temperature profile for one demand state.
type ProfileSettings struct {
	Base    float64          `mapstructure:"base"`
	Home    float64          `mapstructure:"home"`
	Away    float64          `mapstructure:"away"`
	Windows []WindowSettings `mapstructure:"windows"`
}

// WindowSettings is a time-of-day adjustment. Start and End are "HHMM".
type WindowSettings struct {
	Start string  `mapstructure:"start"`
	End   string  `mapstructure:"end"`
	Delta float64 `mapstructure:"delta"`
}

// SensorSettings registers one sensor.
type SensorSettings struct {
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"`
	Channel int    `mapstructure:"channel"`
}

// SamplingSettings tunes the aggregator.
type SamplingSettings struct {
	Samples int           `mapstructure:"samples"`
	Pause   time.Duration `mapstructure:"pause"`
	MinRaw  float64       `mapstructure:"min_raw"`
	MaxRaw  float64       `mapstructure:"max_raw"`
}

// ADCSettings selects the sensor input backend. With EvokStream set, values
// pushed over the EVOK websocket are used and REST is polled only for
// circuits with nothing newer than StreamMaxAge.
type ADCSettings struct {
	Backend      string        `mapstructure:"backend"`
	Device       string        `mapstructure:"device"`
	EvokAddress  string        `mapstructure:"evok_address"`
	EvokCircuit  string        `mapstructure:"evok_circuit"`
	EvokStream   bool          `mapstructure:"evok_stream"`
	StreamMaxAge time.Duration `mapstructure:"stream_max_age"`
}

// GPIOSettings selects the relay output backend.
type GPIOSettings struct {
	Backend string `mapstructure:"backend"`
	Chip    string `mapstructure:"chip"`
}

// ApplianceSettings describes one latching relay pair.
type ApplianceSettings struct {
	On       int           `mapstructure:"on"`
	Off      int           `mapstructure:"off"`
	Interval time.Duration `mapstructure:"interval"`
	Settle   time.Duration `mapstructure:"settle"`
	Release  time.Duration `mapstructure:"release"`
}

// MQTTSettings configures the broker connection.
type MQTTSettings struct {
	Broker     string `mapstructure:"broker"`
	ClientID   string `mapstructure:"client_id"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// WeatherSettings gates forecast refreshes.
type WeatherSettings struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// OccupancySettings configures presence detection. People maps a person to
// the hostnames of their devices.
type OccupancySettings struct {
	Interval    time.Duration       `mapstructure:"interval"`
	Domain      string              `mapstructure:"domain"`
	PingTimeout time.Duration       `mapstructure:"ping_timeout"`
	People      map[string][]string `mapstructure:"people"`
}

// StoreSettings locates the runtime database.
type StoreSettings struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// HTTPSettings configures the status server. An empty Addr disables it.
type HTTPSettings struct {
	Addr string `mapstructure:"addr"`
}

// applianceKinds are the relay pairs that must be configured.
var applianceKinds = []string{"heater", "cooler", "vent"}

// requiredKeys must be present after merging.
var requiredKeys = []string{
	"temperature.min",
	"temperature.max",
	"temperature.default",
	"sensors",
	"groups.house",
}

// knownKeys are the recognized settings. Keys under knownPrefixes are
// free-form maps.
var knownKeys = map[string]bool{
	"log_level":                            true,
	"tick_interval":                        true,
	"temperature.min":                      true,
	"temperature.max":                      true,
	"temperature.default":                  true,
	"temperature.format":                   true,
	"temperature.recheck_interval":         true,
	"temperature.default_hold":             true,
	"temperature.season":                   true,
	"temperature.thresholds.combined_high": true,
	"temperature.thresholds.combined_low":  true,
	"temperature.thresholds.high_only":     true,
	"temperature.thresholds.low_only":      true,
	"temperature.verify_cooling":           true,
	"temperature.gate_cooling":             true,
	"sensors":                              true,
	"sampling.samples":                     true,
	"sampling.pause":                       true,
	"sampling.min_raw":                     true,
	"sampling.max_raw":                     true,
	"adc.backend":                          true,
	"adc.device":                           true,
	"adc.evok_address":                     true,
	"adc.evok_circuit":                     true,
	"adc.evok_stream":                      true,
	"adc.stream_max_age":                   true,
	"gpio.backend":                         true,
	"gpio.chip":                            true,
	"mqtt.broker":                          true,
	"mqtt.client_id":                       true,
	"mqtt.username":                        true,
	"mqtt.password":                        true,
	"mqtt.buffer_size":                     true,
	"weather.interval":                     true,
	"weather.max_age":                      true,
	"occupancy.interval":                   true,
	"occupancy.domain":                     true,
	"occupancy.ping_timeout":               true,
	"occupancy.people":                     true,
	"store.path":                           true,
	"store.retention":                      true,
	"http.addr":                            true,
}

var knownPrefixes = []string{"profiles.", "groups.", "occupancy.people."}

var applianceFields = map[string]bool{"on": true, "off": true, "interval": true, "settle": true, "release": true}

// setDefaults uses duration strings so a written user file stays readable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("tick_interval", "1m")
	v.SetDefault("temperature.format", "F")
	v.SetDefault("temperature.recheck_interval", "24h")
	v.SetDefault("temperature.default_hold", "2h")
	v.SetDefault("temperature.season", SeasonAuto)
	v.SetDefault("temperature.thresholds.combined_high", 10.0)
	v.SetDefault("temperature.thresholds.combined_low", -20.0)
	v.SetDefault("temperature.thresholds.high_only", 5.0)
	v.SetDefault("temperature.thresholds.low_only", -15.0)
	v.SetDefault("sampling.samples", 10)
	v.SetDefault("sampling.pause", "100ms")
	v.SetDefault("sampling.min_raw", 30.0)
	v.SetDefault("sampling.max_raw", 60.0)
	v.SetDefault("adc.backend", ADCBackendIIO)
	v.SetDefault("adc.stream_max_age", "1m")
	v.SetDefault("gpio.backend", "cdev")
	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "thermostat")
	v.SetDefault("mqtt.buffer_size", 100)
	v.SetDefault("weather.interval", "20m")
	v.SetDefault("weather.max_age", "6h")
	v.SetDefault("occupancy.interval", "15m")
	v.SetDefault("occupancy.ping_timeout", "2s")
	v.SetDefault("store.path", "thermostat.db")
	v.SetDefault("store.retention", "720h")
	v.SetDefault("http.addr", ":8080")
}

// Load reads defaultPath, merges userPath over it when the file exists and
// applies environment overrides. When userPath is set but absent, the file
// settings (without environment overrides) are written there so the operator
// has a file to edit; a failed write is logged and does not stop startup.
func Load(defaultPath, userPath string, log *logger.Logger) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", defaultPath, err)
	}
	log.Infow("default settings loaded", "path", defaultPath)

	if userPath != "" {
		if _, err := os.Stat(userPath); err == nil {
			v.SetConfigFile(userPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merge user config %s: %w", userPath, err)
			}
			log.Infow("user settings merged", "path", userPath)
		} else if errors.Is(err, os.ErrNotExist) {
			if err := writeUserDefaults(defaultPath, userPath); err != nil {
				log.Errorw("could not create user config file", "path", userPath, "error", err)
			} else {
				log.Infow("user config file created", "path", userPath)
			}
		} else {
			return nil, fmt.Errorf("stat user config %s: %w", userPath, err)
		}
	}

	for _, k := range unknownKeys(v) {
		log.Warnw("unknown setting ignored", "key", k)
	}
	if err := checkRequired(v); err != nil {
		return nil, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// writeUserDefaults writes the defaults and the default file to userPath.
// It reads through a separate viper without environment binding so that
// overrides such as THERMOSTAT_MQTT_PASSWORD never land on disk.
func writeUserDefaults(defaultPath, userPath string) error {
	fv := viper.New()
	setDefaults(fv)
	fv.SetConfigType("yaml")
	fv.SetConfigFile(defaultPath)
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", defaultPath, err)
	}
	return WriteUserFile(userPath, fv.AllSettings())
}

func unknownKeys(v *viper.Viper) []string {
	var out []string
	for _, k := range v.AllKeys() {
		if knownKeys[k] || hasKnownPrefix(k) || isApplianceKey(k) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func hasKnownPrefix(k string) bool {
	for _, p := range knownPrefixes {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

func isApplianceKey(k string) bool {
	parts := strings.Split(k, ".")
	if len(parts) != 3 || parts[0] != "appliances" {
		return false
	}
	for _, kind := range applianceKinds {
		if parts[1] == kind {
			return applianceFields[parts[2]]
		}
	}
	return false
}

func checkRequired(v *viper.Viper) error {
	var missing []string
	for _, k := range requiredKeys {
		if !v.IsSet(k) {
			missing = append(missing, k)
		}
	}
	for _, kind := range applianceKinds {
		for _, f := range []string{"on", "off"} {
			k := "appliances." + kind + "." + f
			if !v.IsSet(k) {
				missing = append(missing, k)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}
	return nil
}

// WriteUserFile writes settings to path as YAML, creating parent directories.
func WriteUserFile(path string, settings map[string]any) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
