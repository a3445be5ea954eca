// Spool Scale Core
//
// The control core of a filament spool scale. It weighs spools, reads and
// writes their identity tags through the hardware drivers, reports to the
// FilaMan inventory backend and optionally pushes filament settings to a
// printer.
//
// Hardware drivers run as separate processes and talk to the core over a
// local MQTT broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filaman/spoolscale/internal/api"
	"github.com/filaman/spoolscale/internal/backend"
	"github.com/filaman/spoolscale/internal/bridges/hardware"
	"github.com/filaman/spoolscale/internal/connectivity"
	"github.com/filaman/spoolscale/internal/credential"
	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/display"
	"github.com/filaman/spoolscale/internal/infrastructure/config"
	"github.com/filaman/spoolscale/internal/infrastructure/database"
	"github.com/filaman/spoolscale/internal/infrastructure/influxdb"
	"github.com/filaman/spoolscale/internal/infrastructure/logging"
	"github.com/filaman/spoolscale/internal/infrastructure/mqtt"
	"github.com/filaman/spoolscale/internal/orchestrator"
	"github.com/filaman/spoolscale/internal/printer"
	"github.com/filaman/spoolscale/internal/process"
	"github.com/filaman/spoolscale/internal/stability"
	"github.com/filaman/spoolscale/internal/system"
	"github.com/filaman/spoolscale/internal/tag"
	"github.com/filaman/spoolscale/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// linkNoticeTime is how long the reconnecting notice holds the screen.
const linkNoticeTime = 3 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the core together and blocks until ctx is cancelled or a
// component fails.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting spool scale core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"device_id", cfg.Device.ID,
	)

	// Database: registration credential store.
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	holder, err := credential.LoadHolder(ctx, credential.NewSQLiteStore(db.DB), cfg.Backend.URL)
	if err != nil {
		return fmt.Errorf("loading registration: %w", err)
	}
	cred := holder.Current()
	log.Info("registration loaded", "backend_url", cred.BackendURL, "registered", cred.Registered)

	// Device state.
	registry := device.NewRegistry(device.State{Registered: cred.Registered, LinkUp: true})
	registry.SetLogger(log)

	// Hardware bus.
	bus, err := mqtt.Connect(mqtt.OptionsFromConfig(cfg.MQTT))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	bus.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	bus.SetOnConnect(func() { log.Info("MQTT reconnected") })
	bus.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influx := startInfluxDB(cfg.InfluxDB, cfg.Device.ID, log)
	if influx != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	bridge, err := hardware.NewBridge(hardware.Options{
		Bus:    bus,
		Topics: mqtt.NewTopics(cfg.MQTT.TopicPrefix),
		State:  registry,
	})
	if err != nil {
		return fmt.Errorf("creating hardware bridge: %w", err)
	}
	bridge.SetLogger(log.With("component", "hardware"))

	// Frames reach the display driver from the renderer's own goroutine;
	// the loop only posts them.
	var (
		renderer      display.Renderer
		frameRenderer *hardware.Renderer
	)
	if cfg.Display.Headless {
		renderer = display.NewLogRenderer(log.With("component", "display"))
	} else {
		frameRenderer = hardware.NewRenderer(bridge)
		renderer = frameRenderer
	}
	arbiter := display.NewArbiter(nil)

	// Outbound requests.
	queue := dispatch.NewQueue(cfg.Queue.Capacity, cfg.Queue.EnqueueWait)
	queue.SetAdmit(func(r dispatch.Request) bool {
		return r.Kind == dispatch.KindRegister || holder.Current().Usable()
	})

	link := connectivity.NewInterfaceChecker(cfg.Connectivity.Interface)
	dispatchDeps := dispatch.Deps{
		Backend:      backend.NewClient(&http.Client{}),
		Credentials:  holder,
		State:        registry,
		Arbiter:      arbiter,
		Renderer:     renderer,
		LocalAddress: link.Address,
	}
	if influx != nil {
		dispatchDeps.Recorder = influx
	}
	dispatcher := dispatch.NewDispatcher(queue, dispatchDeps, dispatch.Config{
		Interval:  cfg.Queue.DispatchInterval,
		ClaimWait: cfg.Queue.ClaimWait,
		Timeouts:  dispatch.Timeouts(cfg.Backend.Timeouts),
	})
	dispatcher.SetLogger(log.With("component", "dispatch"))

	// Tag session. The coordinator writes tags through the bridge and the
	// bridge feeds driver events back into the coordinator.
	detector := stability.New(stability.Config{
		Tolerance: cfg.Scale.Tolerance,
		MinWeight: cfg.Scale.MinWeight,
		Threshold: cfg.Scale.StableSamples,
	})
	coordinator := tag.NewCoordinator(registry, queue, detector, bridge)
	coordinator.SetLogger(log.With("component", "tag"))
	bridge.SetTagEvents(coordinator)

	// Restart paths.
	restarter := system.NewRestarter(cfg.System.RestartCommand)
	restarter.SetLogger(log)

	watchdog := connectivity.NewWatchdog(link, registry, restarter, cfg.Connectivity.MaxFailures)
	watchdog.SetLogger(log.With("component", "connectivity"))
	watchdog.SetNotifier(display.NewNotice(arbiter, renderer, "connectivity", display.PrioritySystem, linkNoticeTime))
	if influx != nil {
		watchdog.SetRecorder(influx)
	}

	supervisor := orchestrator.NewSupervisor(nil, cfg.Watchdog.LivenessTimeout, restarter)
	supervisor.SetLogger(log.With("component", "supervisor"))

	loop := orchestrator.New(orchestrator.Deps{
		State:       registry,
		Coordinator: coordinator,
		Queue:       queue,
		Watchdog:    watchdog,
		Arbiter:     arbiter,
		Renderer:    renderer,
		Scale:       bridge,
		Supervisor:  supervisor,
	}, orchestrator.Config{
		LoopInterval:         cfg.Watchdog.LoopInterval,
		SampleInterval:       cfg.Scale.SampleInterval,
		HeartbeatInterval:    cfg.Backend.HeartbeatInterval,
		ConnectivityInterval: cfg.Connectivity.CheckInterval,
		StatusInterval:       cfg.Watchdog.StatusInterval,
	})
	loop.SetLogger(log.With("component", "orchestrator"))

	bambu, err := startPrinter(cfg.Printer, log)
	if err != nil {
		return err
	}
	if bambu != nil {
		defer func() {
			if closeErr := bambu.Close(); closeErr != nil {
				log.Error("error closing printer connection", "error", closeErr)
			}
		}()
	}

	managers := driverManagers(cfg.Drivers, bridge, log)

	apiDeps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Logger:        log.With("component", "api"),
		State:         registry,
		Credentials:   holder,
		Queue:         queue,
		Tags:          coordinator,
		Intents:       loop,
		Restarter:     restarter,
		MQTTConnected: bus.IsConnected,
		Version:       version,
	}
	if bambu != nil {
		apiDeps.Printer = bambu
	}
	for _, m := range managers {
		apiDeps.Drivers = append(apiDeps.Drivers, m)
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	coordinator.SetWriteOutcomeHook(server.OnWriteOutcome)

	// Subscriptions last, once every consumer exists.
	if err := bridge.Start(); err != nil {
		return fmt.Errorf("starting hardware bridge: %w", err)
	}
	if err := healthCheck(ctx, db, bus, influx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return bridge.Run(gctx) })
	if frameRenderer != nil {
		g.Go(func() error { return frameRenderer.Run(gctx) })
	}
	g.Go(func() error { return hardware.NewStatePublisher(bridge, registry).Run(gctx) })
	if bambu != nil && cfg.Printer.AutoSend {
		autoSend := printer.NewAutoSend(registry, bambu, cfg.Printer.AutoSendTray)
		autoSend.SetLogger(log.With("component", "autosend"))
		g.Go(func() error { return autoSend.Run(gctx) })
	}
	for _, m := range managers {
		m := m
		g.Go(func() error {
			// A driver that gave up leaves the core serving the UI.
			if err := m.Run(gctx); err != nil {
				log.Error("driver supervision stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete", "drivers", len(managers))

	err = g.Wait()
	watchdog.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("component failed", "error", err)
		return err
	}
	log.Info("spool scale core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SPOOLSCALE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SPOOLSCALE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads path. A missing file falls back to the built-in
// defaults, as on a freshly flashed device.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// startInfluxDB connects the optional telemetry sink. Telemetry never
// stops the core: a failed connection is logged and skipped.
func startInfluxDB(cfg config.InfluxDBConfig, deviceID string, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg, deviceID)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil
	}
	if err != nil {
		log.Warn("InfluxDB unavailable, telemetry off", "error", err)
		return nil
	}
	client.SetLogger(log.With("component", "influxdb"))
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client
}

// startPrinter connects the optional printer channel. It returns nil
// when no printer is configured.
func startPrinter(cfg config.PrinterConfig, log *logging.Logger) (*printer.Printer, error) {
	p, err := printer.Connect(cfg)
	if errors.Is(err, printer.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to printer: %w", err)
	}
	p.SetLogger(log.With("component", "printer"))
	if err := p.Start(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("starting printer channel: %w", err)
	}
	log.Info("printer connected", "host", cfg.Host, "model", p.Model().String())
	return p, nil
}

// driverManagers builds a supervisor per configured driver process.
// Drivers are judged alive by their traffic on the hardware bus.
func driverManagers(drivers []config.DriverConfig, bridge *hardware.Bridge, log *logging.Logger) []*process.Manager {
	managers := make([]*process.Manager, 0, len(drivers))
	for _, d := range drivers {
		m := process.NewManager(process.Config{
			Name:         d.Name,
			Binary:       d.Binary,
			Args:         d.Args,
			Env:          d.Env,
			RestartDelay: d.RestartDelay,
			MaxRestarts:  d.MaxRestarts,
			StaleAfter:   d.StaleAfter,
			LastSeen:     bridge.LastSeen,
		})
		m.SetLogger(log.With("driver", d.Name))
		managers = append(managers, m)
	}
	return managers
}

// healthCheck verifies the infrastructure connections. influx may be nil.
func healthCheck(ctx context.Context, db *database.DB, bus *mqtt.Client, influx *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := bus.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
