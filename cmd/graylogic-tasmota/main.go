// Gray Logic Tasmota - device integration service
//
// This is the main entry point for the Gray Logic Tasmota service. It polls
// Tasmota lights and plugs over their HTTP command interface and exposes
// them as typed properties:
//   - State changes are published over MQTT and recorded locally
//   - Plug telemetry is written to InfluxDB when enabled
//   - A REST and WebSocket API serves reads and property writes
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/nerrad567/gray-logic-tasmota/internal/api"
	"github.com/nerrad567/gray-logic-tasmota/internal/bridges/tasmota"
	"github.com/nerrad567/gray-logic-tasmota/internal/device"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tasmota/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when GRAYLOGIC_TASMOTA_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	configPathEnv = "GRAYLOGIC_TASMOTA_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Tasmota",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	metrics.Init(nil)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", len(applied))

	history := device.NewSQLiteHistoryRepository(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.ConnectOptions{
		Version:      version,
		Logger:       log,
		OnConnect:    func() { log.Info("MQTT connected to broker") },
		OnDisconnect: func(err error) { log.Warn("MQTT disconnected", "error", err) },
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, influxdb.Options{
			Source: tasmota.Protocol,
			OnError: func(err error) {
				log.Error("InfluxDB write error", "error", err)
			},
		})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if !cfg.Protocols.Tasmota.Enabled {
		return fmt.Errorf("tasmota bridge is disabled; nothing to run")
	}
	bridge, err := startTasmotaBridge(ctx, cfg, mqttClient, history, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting Tasmota bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Tasmota bridge")
		bridge.Stop()
	}()

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Bridge:   bridge,
		History:  history,
		MQTT:     mqttClient,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty; property writes are unauthenticated")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API, bridge, InfluxDB, MQTT, database.

	log.Info("Gray Logic Tasmota stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_TASMOTA_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// checker is implemented by every infrastructure client.
type checker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db checker, mqttClient checker, influxClient *influxdb.Client, apiServer checker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// startTasmotaBridge loads the bridge configuration, builds every device
// and starts polling.
func startTasmotaBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	history tasmota.HistoryStore,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*tasmota.Bridge, error) {
	bridgeCfg, err := tasmota.LoadConfig(cfg.Protocols.Tasmota.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("loading Tasmota bridge config: %w", err)
	}
	log.Info("Tasmota bridge config loaded",
		"path", cfg.Protocols.Tasmota.ConfigFile,
		"devices", len(bridgeCfg.Devices),
		"poll_interval", bridgeCfg.GetPollInterval(),
	)

	opts := tasmota.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Logger:     log,
		Version:    version,
		History:    history,
	}
	if influxClient != nil {
		opts.Telemetry = &influxTelemetrySink{client: influxClient}
	}

	bridge, err := tasmota.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating Tasmota bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting Tasmota bridge: %w", err)
	}
	log.Info("Tasmota bridge started", "devices", bridge.DeviceCount())

	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. Bridge handlers return nothing; infrastructure
// handlers return an error.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements tasmota.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements tasmota.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements tasmota.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// telemetryWriter is the InfluxDB write surface used for plug samples.
type telemetryWriter interface {
	WriteTelemetry(deviceID string, readings []influxdb.Reading)
	WriteEnergyMetric(deviceID string, powerWatts float64, energyKWh float64)
}

// influxTelemetrySink writes plug samples to InfluxDB.
type influxTelemetrySink struct {
	client telemetryWriter
}

// WriteTelemetry implements tasmota.TelemetrySink.
func (s *influxTelemetrySink) WriteTelemetry(deviceID string, sample tasmota.PollSample) {
	if len(sample) == 0 {
		return
	}

	names := make([]string, 0, len(sample))
	for name := range sample {
		names = append(names, name)
	}
	sort.Strings(names)

	readings := make([]influxdb.Reading, 0, len(names))
	for _, name := range names {
		r := sample[name]
		readings = append(readings, influxdb.Reading{Name: name, Value: r.Value, Unit: r.Unit})
	}
	s.client.WriteTelemetry(deviceID, readings)

	if power, ok := sample["Power"]; ok {
		s.client.WriteEnergyMetric(deviceID, power.Value, sample["Total"].Value)
	}
}
