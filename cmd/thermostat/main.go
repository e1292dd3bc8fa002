// Command thermostat reads room temperatures, drives heating, cooling and
// ventilation relays, and publishes its state to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/thermostat/internal/adc"
	"github.com/sweeney/thermostat/internal/appliance"
	"github.com/sweeney/thermostat/internal/config"
	"github.com/sweeney/thermostat/internal/control"
	"github.com/sweeney/thermostat/internal/engine"
	"github.com/sweeney/thermostat/internal/gpio"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/metrics"
	"github.com/sweeney/thermostat/internal/mqtt"
	"github.com/sweeney/thermostat/internal/occupancy"
	"github.com/sweeney/thermostat/internal/sensor"
	"github.com/sweeney/thermostat/internal/status"
	"github.com/sweeney/thermostat/internal/store"
	"github.com/sweeney/thermostat/internal/timer"
	"github.com/sweeney/thermostat/internal/weather"
	"github.com/sweeney/thermostat/internal/web"
)

// shutdownTimeout bounds the final all-off and telemetry.
const shutdownTimeout = 10 * time.Second

// evokRetry is the pause before reconnecting a dropped EVOK stream.
const evokRetry = 5 * time.Second

// commandQueue is the number of pending overrides accepted from HTTP and MQTT.
const commandQueue = 8

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Default settings file")
	userConfig := flag.String("user-config", defaultUserConfig(), "User settings overlay (created when absent, empty to disable)")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	boot := logger.New(logger.InfoLevel)
	if err := run(*configPath, *userConfig, *logLevel, boot); err != nil {
		boot.Fatalw("fatal", "error", err)
	}
}

func defaultUserConfig() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "thermostat", "config.yaml")
}

func run(configPath, userConfig, logLevel string, boot *logger.Logger) error {
	// Registered before any hardware is touched so a signal during startup
	// is queued for the loop instead of killing the process mid-pulse.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	settings, err := config.Load(configPath, userConfig, boot)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if logLevel == "" {
		logLevel = settings.LogLevel
	}
	log := logger.New(logLevel)
	defer log.Sync()

	engCfg, err := settings.Engine()
	if err != nil {
		return fmt.Errorf("engine settings: %w", err)
	}
	eng, err := engine.New(engCfg, log.Named("engine"))
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	season, err := settings.SeasonFunc()
	if err != nil {
		return err
	}

	// Relay outputs first, so later startup failures can still switch
	// everything off.
	out, err := gpio.Open(settings.GPIO.Backend, settings.GPIO.Chip, settings.OutputLines())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	closers := []namedCloser{{"gpio", out}}
	defer func() { release(log, closers) }()

	set, err := buildAppliances(settings, out, log.Named("appliance"))
	if err != nil {
		return err
	}

	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()
	reader, err := openADC(streamCtx, settings.ADC, log.Named("adc"))
	if err != nil {
		return abort(set, log, fmt.Errorf("init adc: %w", err))
	}
	reg, err := settings.Registry()
	if err != nil {
		return abort(set, log, err)
	}
	agg := sensor.NewAggregator(reg, reader, eng.DesiredFahrenheit, timer.Sleep, settings.SensorOptions(), log.Named("sensor"))

	st := openStore(settings.Store, eng, log.Named("store"))
	var loopStore control.Store
	if st != nil {
		loopStore = st
		closers = append([]namedCloser{{"store", st}}, closers...)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	tracker := status.NewTracker(time.Now(), status.Config{
		TickMs:   settings.TickInterval.Milliseconds(),
		Broker:   settings.MQTT.Broker,
		HTTPPort: settings.HTTP.Addr,
		Backend:  settings.GPIO.Backend,
	})

	pub, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     settings.MQTT.Broker,
		ClientID:   settings.MQTT.ClientID,
		Username:   settings.MQTT.Username,
		Password:   settings.MQTT.Password,
		BufferSize: settings.MQTT.BufferSize,
	}, log.Named("mqtt"))
	if err != nil {
		return abort(set, log, fmt.Errorf("init mqtt: %w", err))
	}
	closers = append([]namedCloser{{"mqtt", pub}}, closers...)

	cmds := make(chan control.Command, commandQueue)
	cache := weather.NewCache(settings.Weather.MaxAge, nil, log.Named("weather"))
	subscribe(pub, cache, cmds, log)

	var detector *occupancy.Detector
	if len(settings.Occupancy.People) > 0 {
		detector = occupancy.NewDetector(settings.Occupancy.People, settings.Occupancy.Domain,
			occupancy.PingProber{Timeout: settings.Occupancy.PingTimeout},
			settings.Occupancy.Interval, log.Named("occupancy"))
	}

	loop, err := control.New(control.Deps{
		Engine:      eng,
		Sensors:     agg,
		Appliances:  set,
		Weather:     weather.NewTracker(cache, settings.Weather.Interval, log.Named("weather")),
		Occupancy:   detector,
		Publisher:   pub,
		Store:       loopStore,
		Metrics:     m,
		Tracker:     tracker,
		Log:         log.Named("control"),
		Season:      season,
		DefaultHold: settings.Temperature.DefaultHold,
	})
	if err != nil {
		return abort(set, log, err)
	}

	ctx := context.Background()
	if err := loop.Startup(ctx); err != nil {
		log.Errorw("startup all-off incomplete", "error", err)
	}
	publishSystem(pub, pub, tracker, time.Now(), "STARTUP", "", log)

	if settings.HTTP.Addr != "" {
		srv := web.New(settings.HTTP.Addr, tracker, cmds, promReg, log.Named("web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infow("http status server listening", "addr", settings.HTTP.Addr)
	}

	log.Infow("started",
		"tick", settings.TickInterval.String(),
		"broker", settings.MQTT.Broker,
		"sensors", len(reg.Sensors()),
		"gpio", settings.GPIO.Backend,
		"adc", settings.ADC.Backend)

	if done, err := initialTick(ctx, loop, pub, pub, tracker, time.Now, sigCh, log); done || err != nil {
		return err
	}

	ticker := time.NewTicker(settings.TickInterval)
	defer ticker.Stop()

	return runLoop(ctx, loop, pub, pub, tracker, time.Now, ticker.C, cmds, sigCh, log)
}

func buildAppliances(settings *config.Settings, out gpio.Writer, log *logger.Logger) (appliance.Set, error) {
	var set appliance.Set
	for _, slot := range []struct {
		kind appliance.Kind
		dst  **appliance.Appliance
	}{
		{appliance.Heater, &set.Heater},
		{appliance.Cooler, &set.Cooler},
		{appliance.Vent, &set.Vent},
	} {
		cfg, err := settings.Appliance(slot.kind)
		if err != nil {
			return appliance.Set{}, err
		}
		a, err := appliance.New(cfg, out, timer.Sleep, log)
		if err != nil {
			return appliance.Set{}, fmt.Errorf("init %s: %w", slot.kind, err)
		}
		*slot.dst = a
	}
	return set, nil
}

// abort switches every appliance off after a startup failure that follows a
// successful GPIO open.
func abort(set appliance.Set, log *logger.Logger, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := set.AllOff(ctx); err != nil {
		log.Errorw("all-off after startup failure incomplete", "error", err)
	}
	return cause
}

// openADC selects the sensor input. An EVOK stream keeps receiving pushes
// until ctx is done.
func openADC(ctx context.Context, s config.ADCSettings, log *logger.Logger) (adc.Reader, error) {
	if s.Backend == config.ADCBackendEvok {
		if s.EvokStream {
			st := adc.NewEvokStream(s.EvokAddress, s.EvokCircuit, s.StreamMaxAge)
			go st.Run(ctx, evokRetry, log)
			return st, nil
		}
		return adc.NewEvokReader(s.EvokAddress, s.EvokCircuit), nil
	}
	r, err := adc.NewIIOReader(s.Device)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// openStore opens the runtime database and restores persisted settings.
// Persistence is optional: failures are logged and the daemon runs without it.
func openStore(s config.StoreSettings, eng *engine.Engine, log *logger.Logger) *store.SQLite {
	if s.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		log.Errorw("cannot create store directory, running without persistence", "path", s.Path, "error", err)
		return nil
	}
	db, err := store.Open(s.Path)
	if err != nil {
		log.Errorw("cannot open store, running without persistence", "path", s.Path, "error", err)
		return nil
	}
	st := store.New(db)

	ctx := context.Background()
	rt, ok, err := st.LoadRuntime(ctx)
	switch {
	case err != nil:
		log.Errorw("loading runtime settings failed", "error", err)
	case ok:
		if err := eng.Restore(rt); err != nil {
			log.Errorw("some runtime settings were rejected", "error", err)
		}
		log.Infow("runtime settings restored", "mode", string(eng.Mode()), "demand", string(eng.DemandState()), "desired", eng.DesiredTemp())
	}
	if s.Retention > 0 {
		n, err := st.PruneTransitions(ctx, time.Now().Add(-s.Retention))
		if err != nil {
			log.Warnw("pruning transitions failed", "error", err)
		} else if n > 0 {
			log.Infow("pruned transitions", "count", n)
		}
	}
	return st
}

// subscribe wires forecast and command topics. Handlers run on the MQTT
// client goroutine and only hand data to the loop.
func subscribe(sub mqtt.Subscriber, cache *weather.Cache, cmds chan<- control.Command, log *logger.Logger) {
	if err := sub.Subscribe(mqtt.TopicForecast, cache.Handle); err != nil {
		log.Warnw("forecast subscription pending", "topic", mqtt.TopicForecast, "error", err)
	}
	err := sub.Subscribe(mqtt.TopicCommand, func(payload []byte) {
		cmd, err := control.ParseCommand(payload)
		if err != nil {
			log.Warnw("ignoring command", "topic", mqtt.TopicCommand, "error", err)
			return
		}
		select {
		case cmds <- cmd:
		default:
			log.Warnw("command dropped, queue full", "topic", mqtt.TopicCommand)
		}
	})
	if err != nil {
		log.Warnw("command subscription pending", "topic", mqtt.TopicCommand, "error", err)
	}
}

// runLoop is the only goroutine that touches the engine and appliances.
func runLoop(ctx context.Context, loop *control.Loop, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, tick <-chan time.Time, cmds <-chan control.Command, sig <-chan os.Signal, log *logger.Logger) error {
	for {
		select {
		case s := <-sig:
			log.Infow("shutting down", "signal", s.String())
			return shutdown(loop, publisher, mqttStatus, tracker, now, signalName(s), log)

		case cmd := <-cmds:
			if err := loop.Apply(ctx, now(), cmd); err != nil {
				log.Warnw("command rejected", "error", err)
			}

		case <-tick:
			if err := loop.Tick(ctx, now()); err != nil {
				return err
			}
			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
		}
	}
}

// initialTick runs the first evaluation unless a signal arrived during
// startup, in which case it shuts down and reports done. A signal that
// arrives during the tick stays queued on sig for runLoop.
func initialTick(ctx context.Context, loop *control.Loop, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, sig <-chan os.Signal, log *logger.Logger) (bool, error) {
	select {
	case s := <-sig:
		log.Infow("shutting down before first tick", "signal", s.String())
		return true, shutdown(loop, publisher, mqttStatus, tracker, now, signalName(s), log)
	default:
	}
	return false, loop.Tick(ctx, now())
}

// shutdown forces every appliance off, then announces the shutdown. It uses
// a fresh context so a cancelled parent cannot skip the all-off.
func shutdown(loop *control.Loop, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, reason string, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := loop.Shutdown(ctx)
	publishSystem(publisher, mqttStatus, tracker, now(), "SHUTDOWN", reason, log)
	if err != nil {
		return fmt.Errorf("shutdown all-off: %w", err)
	}
	return nil
}

func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, at time.Time, event, reason string, log *logger.Logger) {
	ev := mqtt.SystemEvent{
		Timestamp: at,
		Event:     event,
		Reason:    reason,
		Retained:  true,
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	if err := publisher.PublishSystem(ev); err != nil {
		log.Warnw("failed to publish system event", "event", event, "error", err)
		return
	}
	log.Infow("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

type namedCloser struct {
	name string
	c    io.Closer
}

// release closes handles in order: transport first, hardware last.
func release(log *logger.Logger, closers []namedCloser) {
	for _, nc := range closers {
		if err := nc.c.Close(); err != nil {
			log.Warnw("close failed", "resource", nc.name, "error", err)
		}
	}
}
