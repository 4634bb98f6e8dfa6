// shutterd - Window Shutter Controller
//
// shutterd drives motorised window shutters through a 32-channel Modbus
// relay board. It runs in two modes:
//
//	shutterd [flags] <action> <target>   one-shot command, then exit
//	shutterd [flags] stop                all relays off, then exit
//	shutterd [flags] serve               long-running MQTT command daemon
//	shutterd [flags] history [target]    list recent invocations, then exit
//
// Actions and targets come from the configuration file; "stop" is always
// available and needs no target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mj41/ha-modbus-windows-shutter/internal/bridges/modbus"
	"github.com/mj41/ha-modbus-windows-shutter/internal/history"
	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/config"
	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/database"
	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/logging"
	"github.com/mj41/ha-modbus-windows-shutter/internal/infrastructure/mqtt"
	"github.com/mj41/ha-modbus-windows-shutter/internal/service"
	"github.com/mj41/ha-modbus-windows-shutter/internal/shutter"
)

// The relay client must satisfy the controller's bus capability.
var _ shutter.Bus = (*modbus.RelayClient)(nil)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Reserved first arguments selecting a mode instead of a shutter action.
const (
	serveMode   = "serve"
	historyMode = "history"
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	// For a one-shot command this aborts the timeline between events; the
	// executor's safety reset still switches every relay off.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", "", "path to config.yaml (default: SHUTTERD_CONFIG or "+defaultConfigPath+")")
	flag.Usage = usage
	flag.Parse()

	if err := run(ctx, *configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage:
  shutterd [flags] <action> <target>   run an action on a shutter or group
  shutterd [flags] stop                switch all relays off
  shutterd [flags] serve               run the MQTT command daemon
  shutterd [flags] history [target]    list recent invocations

Flags:
`)
	flag.PrintDefaults()
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configFlag: Config path from the -config flag (may be empty)
//   - args: Positional arguments (action, target or "serve")
//
// Returns:
//   - error: nil on clean completion, or error describing failure
func run(ctx context.Context, configFlag string, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("an action or %q is required", serveMode)
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting shutterd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath,
		"shutters", len(cfg.Shutters), "groups", len(cfg.ShutterGroups))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// History listing needs the database, not the relay board
	if args[0] == historyMode {
		return runHistory(ctx, cfg, args[1:])
	}

	// Connect to the relay board
	bus, err := modbus.NewClient(cfg.ModbusClientConfig())
	if err != nil {
		return fmt.Errorf("creating relay client: %w", err)
	}
	bus.SetLogger(log)

	if err := bus.Connect(); err != nil {
		return fmt.Errorf("connecting to relay board: %w", err)
	}
	defer func() {
		// Close resets all relays before dropping the transport.
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing relay board", "error", closeErr)
		}
	}()
	log.Info("relay board connected", "mode", cfg.Modbus.Mode)

	// Verify we are talking to the intended board before energising
	// anything. A wrong address on a shared RS-485 line would drive
	// someone else's relays.
	if cfg.Modbus.DeviceAddress != 0 {
		addr, addrErr := bus.ReadDeviceAddress()
		if addrErr != nil {
			return fmt.Errorf("reading device address: %w", addrErr)
		}
		if int(addr) != cfg.Modbus.DeviceAddress {
			return fmt.Errorf("device address mismatch: board reports %d, config expects %d",
				addr, cfg.Modbus.DeviceAddress)
		}
		log.Info("device address verified", "address", addr)
	}

	// Open invocation history (optional)
	var historyRepo *history.Repository
	if cfg.History.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening history database: %w", dbErr)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running history migrations: %w", migrateErr)
		}
		historyRepo = history.NewRepository(db.DB)
		log.Info("history database ready", "path", cfg.History.Path)

		if cfg.History.RetentionDays > 0 {
			retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
			deleted, pruneErr := historyRepo.Prune(ctx, retention)
			if pruneErr != nil {
				log.Warn("pruning history failed", "error", pruneErr)
			} else if deleted > 0 {
				log.Info("pruned history", "deleted", deleted, "retention_days", cfg.History.RetentionDays)
			}
		}
	}

	// Build the controller
	opts := shutter.ControllerOptions{
		Shutters: cfg.ShutterInventory(),
		Groups:   cfg.ShutterGroups,
		Bus:      bus,
		Logger:   log,
	}
	if historyRepo != nil {
		opts.History = historyRepo
	}
	ctrl, err := shutter.NewController(opts)
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	var runErr error
	if args[0] == serveMode {
		runErr = runService(ctx, cfg, ctrl, bus, log)
	} else {
		runErr = runCommand(ctx, ctrl, log, args)
	}

	stats := bus.Stats()
	log.Debug("relay board statistics",
		"writes", stats.WritesTotal,
		"reads", stats.ReadsTotal,
		"errors", stats.ErrorsTotal,
	)
	return runErr
}

// runCommand executes one action and exits.
func runCommand(ctx context.Context, ctrl *shutter.Controller, log *logging.Logger, args []string) error {
	action := args[0]

	var target string
	switch {
	case len(args) >= 2:
		target = args[1]
	case action != shutter.ActionStop:
		return fmt.Errorf("action %q requires a shutter or group name", action)
	}

	log.Info("running command", "action", action, "target", target)
	if err := ctrl.Perform(ctx, target, action); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	log.Info("command complete", "action", action, "target", target)
	return nil
}

// runHistory prints recent invocations, most recent first, optionally
// filtered to one shutter or group.
func runHistory(ctx context.Context, cfg *config.Config, args []string) error {
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled in the configuration")
	}

	db, err := database.Open(database.Config{
		Path:        cfg.History.Path,
		WALMode:     cfg.History.WALMode,
		BusyTimeout: cfg.History.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Read-only listing

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running history migrations: %w", err)
	}

	filter := history.Filter{}
	if len(args) > 0 {
		filter.Target = args[0]
	}

	records, err := history.NewRepository(db.DB).List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no invocations recorded")
		return nil
	}

	for _, rec := range records {
		line := fmt.Sprintf("%s  %-7s  %-12s  %-7s  %s",
			rec.CreatedAt.Format(time.RFC3339), rec.Outcome, rec.Target,
			rec.Action, rec.Duration.Round(time.Millisecond))
		if rec.Error != "" {
			line += "  " + rec.Error
		}
		fmt.Println(line)
	}
	return nil
}

// runService connects to the MQTT broker and runs the command daemon
// until the context is cancelled.
func runService(ctx context.Context, cfg *config.Config, ctrl *shutter.Controller, bus shutter.Bus, log *logging.Logger) error {
	if !cfg.MQTT.Enabled {
		return fmt.Errorf("service mode requires mqtt.enabled: true")
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	svc, err := service.New(service.Options{
		Controller: ctrl,
		Bus:        bus,
		Broker:     mqttClient,
		QoS:        byte(cfg.MQTT.QoS),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	log.Info("initialisation complete, serving commands")
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("service: %w", err)
	}

	log.Info("shutterd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Precedence: -config flag, SHUTTERD_CONFIG environment variable, default.
func getConfigPath(configFlag string) string {
	if configFlag != "" {
		return configFlag
	}
	if path := os.Getenv("SHUTTERD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
