package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lmbridge/internal/api"
	"github.com/nerrad567/lmbridge/internal/audit"
	"github.com/nerrad567/lmbridge/internal/bridge"
	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/database"
	"github.com/nerrad567/lmbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lmbridge/internal/infrastructure/logging"
	"github.com/nerrad567/lmbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/lmbridge/internal/model"
)

// thingsTimeout bounds the start-up lookup of names and models.
const thingsTimeout = 15 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel on Ctrl+C or SIGTERM for a graceful shutdown.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, opts.configPath)
		},
	}
}

// run is the daemon, separated from the command for testability. It
// returns nil on a clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting lmbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer log.Close() //nolint:errcheck // Shutting down
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	client, err := newCloudClient(ctx, cfg, store, log)
	if err != nil {
		return err
	}

	thingsCtx, cancelThings := context.WithTimeout(ctx, thingsTimeout)
	things, err := client.ListThings(thingsCtx)
	cancelThings()
	if err != nil {
		log.Warn("listing account devices failed, names and models come from the dashboard", "error", err)
	}
	warnUnknownDevices(log, cfg.Devices, things)

	history := device.NewSQLiteHistory(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	registry, err := buildRegistry(cfg, device.CloudTransport(client), history, things, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing device streams")
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing devices", "error", closeErr)
		}
	}()
	log.Info("device registry initialised", "devices", registry.Count())

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var stats bridge.StatisticsWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		stats = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Registry: registry,
		History:  history,
		Audit:    auditRepo,
		DB:       db.DB,
		Version:  version,
	}

	// Connect to MQTT and start the bridge (optional)
	var mqttClient *mqtt.Client
	devices := bridgeDevices(cfg)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		br, err := bridge.New(bridge.Options{
			Registry:   registry,
			MQTT:       mqttClient,
			Statistics: stats,
			History:    history,
			Audit:      auditRepo,
			Config:     cfg.Bridge,
			Devices:    devices,
			Version:    version,
			Logger:     log,
		})
		if err != nil {
			return fmt.Errorf("creating bridge: %w", err)
		}
		if err := br.Start(ctx); err != nil {
			return fmt.Errorf("starting bridge: %w", err)
		}
		defer func() {
			log.Info("stopping bridge")
			br.Stop()
		}()
		deps.Commands = br.Dispatcher()
		deps.Health = br.Health()
		deps.MQTT = mqttClient
	} else {
		log.Info("MQTT disabled, loading devices once")
		loadDevices(ctx, registry, devices, log)
		deps.Commands = bridge.NewDispatcher(registry)
	}

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API, bridge, MQTT,
	// InfluxDB, device streams, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// warnUnknownDevices logs configured serials the account does not list.
func warnUnknownDevices(log *logging.Logger, devices []config.DeviceConfig, things []model.Thing) {
	if things == nil {
		return
	}
	listed := make(map[string]bool, len(things))
	for _, t := range things {
		listed[t.SerialNumber] = true
	}
	for _, d := range devices {
		if !listed[d.Serial] {
			log.Warn("configured device is not registered to the account", "serial", d.Serial)
		}
	}
}

// healthCheck verifies the infrastructure connections. mqttClient and
// influxClient are nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
