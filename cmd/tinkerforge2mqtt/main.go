// tinkerforge2mqtt bridges a Tinkerforge brick/bricklet stack to an MQTT
// broker as Home Assistant entities.
//
// It keeps two links alive: MQTT (connected once, then reconnected by the
// client library) and brickd (redialled with backoff whenever it drops).
// Devices found by enumeration get a handler that publishes their entities
// and applies commands from Home Assistant to the hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nerrad567/tinkerforge2mqtt/internal/brickd"
	"github.com/nerrad567/tinkerforge2mqtt/internal/bridge"
	"github.com/nerrad567/tinkerforge2mqtt/internal/devices"
	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/database"
	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/tinkerforge2mqtt/internal/metrics"
	"github.com/nerrad567/tinkerforge2mqtt/internal/resilience"
	"github.com/nerrad567/tinkerforge2mqtt/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(flagExitCode(err))
	}

	// Cancels on Ctrl+C and SIGTERM; the bridge shuts down and exits 0.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command line settings.
type options struct {
	configPath string
	verbosity  int
}

// countFlag counts repeated boolean flags (-v -v -v). -v=N sets N.
type countFlag int

func (c *countFlag) String() string { return strconv.Itoa(int(*c)) }

func (c *countFlag) Set(s string) error {
	if s == "true" {
		*c++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid verbosity %q", s)
	}
	*c = countFlag(n)
	return nil
}

func (c *countFlag) IsBoolFlag() bool { return true }

func parseFlags(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("tinkerforge2mqtt", flag.ContinueOnError)
	fs.SetOutput(output)

	var opts options
	var verbosity countFlag
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML config (env TF2MQTT_CONFIG)")
	fs.Var(&verbosity, "v", "raise log verbosity; repeat for more (overrides logging.level)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.verbosity = int(verbosity)
	return opts, nil
}

// flagExitCode maps a parseFlags error to the process exit status:
// 0 when help was requested, 2 for a usage error.
func flagExitCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 2
}

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly. Order: -config flag, TF2MQTT_CONFIG, default.
func getConfigPath(flagPath string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if path := os.Getenv("TF2MQTT_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on shutdown signals
//   - opts: Command line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	log := logging.Default()

	configPath, explicit := getConfigPath(opts.configPath)
	cfg, err := config.Load(configPath, !explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.verbosity > 0 {
		cfg.Logging.Level = logging.LevelForVerbosity(opts.verbosity)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting tinkerforge2mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	var observers bridge.Observers
	var inventory *bridge.Inventory

	states, closeStates := connectHistory(ctx, cfg, log)
	defer closeStates()

	if cfg.Inventory.Enabled {
		inv, closeInventory, err := openInventory(ctx, cfg.Inventory, log)
		if err != nil {
			return err
		}
		defer closeInventory()
		inventory = inv
		observers = append(observers, inv)
	}

	var loopMetrics bridge.Metrics
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		observers = append(observers, collector)
		loopMetrics = collector
	}

	topics := mqtt.NewTopics(cfg.MQTT)
	registry := devices.NewRegistry(devices.RegistryConfig{
		Topics:       topics,
		QoS:          byte(cfg.MQTT.QoS),
		Logger:       log.With("component", "registry"),
		States:       states,
		StaleTimeout: cfg.StaleTimeout(),
	})
	registry.SetObserver(observers)
	if err := devices.RegisterDefaults(registry, devices.FixturesFromConfig(cfg.Devices.DMX)); err != nil {
		return fmt.Errorf("registering device handlers: %w", err)
	}

	var mqttRetries *int
	if cfg.MQTT.Reconnect.MaxAttempts > 0 {
		mqttRetries = resilience.Retries(cfg.MQTT.Reconnect.MaxAttempts)
	}

	mqttLog := log.With("component", "mqtt")
	hwLog := log.With("component", "brickd")

	loop := bridge.NewLoop(bridge.Config{
		MQTTDialer: func(ctx context.Context) (bridge.MQTTConn, error) {
			c, err := mqtt.Connect(ctx, cfg.MQTT)
			if err != nil {
				return nil, err
			}
			c.SetLogger(mqttLog)
			c.SetOnDisconnect(func(err error) {
				mqttLog.Warn("MQTT connection lost, client will reconnect", "error", err)
			})
			return c, nil
		},
		MQTTAddress: fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		HardwareDialer: bridge.BrickdDialer(brickd.Config{
			Address:        cfg.HardwareAddress(),
			ConnectTimeout: cfg.ConnectTimeout(),
		}, hwLog),
		HardwareAddress:   cfg.HardwareAddress(),
		Registry:          registry,
		MQTTMaxRetries:    mqttRetries,
		MQTTInitialDelay:  time.Duration(cfg.MQTT.Reconnect.InitialDelay) * time.Second,
		EnumerateInterval: cfg.EnumerateInterval(),
		Cooldown:          cfg.ReconnectCooldown(),
		StatusTopic:       topics.BridgeState(),
		BridgeID:          cfg.MQTT.Broker.ClientID,
		Version:           version,
		Logger:            log.With("component", "bridge"),
		Metrics:           loopMetrics,
	})

	if collector != nil {
		server := metrics.NewServer(cfg.Metrics.Listen, collector, func() error {
			if s := loop.State(); s != bridge.StateOperating {
				return fmt.Errorf("bridge %s", s)
			}
			return nil
		}, log)
		if inventory != nil {
			server.Mount("/devices", inventory.Routes())
		}
		if err := server.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		defer func() {
			if err := server.Shutdown(context.Background()); err != nil {
				log.Warn("stopping metrics server", "error", err)
			}
		}()
	}

	if err := loop.Run(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// connectHistory connects the optional InfluxDB entity history. A failure
// is logged and the bridge runs without history.
func connectHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (devices.StateRecorder, func()) {
	if !cfg.InfluxDB.Enabled {
		return nil, func() {}
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		if !errors.Is(err, influxdb.ErrDisabled) {
			log.Warn("InfluxDB unavailable, entity history disabled", "error", err)
		}
		return nil, func() {}
	}
	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write failed", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

	return client, func() {
		if err := client.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
}

// openInventory opens the SQLite device inventory and applies migrations.
func openInventory(ctx context.Context, cfg config.InventoryConfig, log *logging.Logger) (*bridge.Inventory, func(), error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening inventory: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	inv := bridge.NewInventory(db.DB)
	inv.SetLogger(log.With("component", "inventory"))
	if err := inv.Start(); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("device inventory open", "path", db.Path())

	return inv, func() {
		inv.Stop()
		if err := db.Close(); err != nil {
			log.Error("error closing inventory", "error", err)
		}
	}, nil
}
