// Access Control Core - door controller message bus service
//
// This is the main entry point for the access control core. It keeps a
// resilient MQTT session to the site broker, routes inbound door traffic
// to the device handlers, and serves the operator REST/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/access-control-core/internal/api"
	"github.com/nerrad567/access-control-core/internal/audit"
	"github.com/nerrad567/access-control-core/internal/device"
	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
	"github.com/nerrad567/access-control-core/internal/infrastructure/database"
	"github.com/nerrad567/access-control-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/access-control-core/internal/infrastructure/logging"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/metrics"
	"github.com/nerrad567/access-control-core/internal/router"
	"github.com/nerrad567/access-control-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when ACCESS_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// drainTimeout bounds how long shutdown waits for in-flight handlers.
	drainTimeout = 10 * time.Second

	// messageRetention is how long the raw inbound message log is kept.
	messageRetention = 7 * 24 * time.Hour

	statusHistoryRetention = 30 * 24 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Shutdown order (reverse of the defers below): MQTT client, router drain,
// API server, InfluxDB, database.
//
// No AccessValidator is wired here: credential lookup belongs to the policy
// service that embeds this core. Until one is supplied through
// device.HandlerOptions the daemon fails closed and every access request is
// answered with a denial carrying the reason "validation unavailable".
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting access control core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	history := device.NewSQLiteStatusHistoryRepository(db.DB)
	collector := metrics.New()

	// InfluxDB (optional)
	influxClient, err := connectInfluxDB(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Router and MQTT client
	rtr := router.New(router.Options{
		MaxConcurrent: cfg.Access.MaxConcurrentHandlers,
		Recorder:      auditRepo,
		Observer:      collector,
		Logger:        log.Component("router"),
	})

	opts, err := mqtt.NewOptions(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("building MQTT options: %w", err)
	}
	mqttClient := mqtt.New(opts, mqtt.NewPahoDialer(), rtr.HandleMessage)
	mqttClient.SetLogger(log.Component("mqtt"))

	// Device service and API
	devices := device.NewCommunicationService(mqttClient, cfg.Access.UnlockDuration)
	devices.SetLogger(log.Component("device"))

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.Component("api"),
		MQTT:      mqttClient,
		Devices:   devices,
		History:   history,
		AuditRepo: auditRepo,
		Router:    rtr,
		Metrics:   collector,
		Database:  db,
		Version:   version,
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	handlerOpts := device.HandlerOptions{
		Notifier: srv.Hub(),
		Recorder: auditRepo,
		History:  history,
		Logger:   log.Component("device-handler"),
	}
	if influxClient != nil {
		handlerOpts.Telemetry = influxClient
	}
	device.NewHandler(devices, handlerOpts).Register(rtr)

	wireConnectionObservers(mqttClient, rtr, srv.Hub(), collector, srv, influxClient, log)

	for _, topic := range (mqtt.Topics{}).InboundSubscriptions() {
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS)); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
	}

	// Background sweeps
	go devices.RunCleanup(ctx, cfg.GetCleanupInterval(), cfg.GetCommandTimeout())
	go pruneLoop(ctx, log,
		retentionJob{name: "mqtt_messages", keep: messageRetention, prune: auditRepo.PruneMessages},
		retentionJob{name: "device_status_history", keep: statusHistoryRetention, prune: history.PruneHistory},
	)

	// Start serving
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	if startErr := mqttClient.Start(ctx); startErr != nil {
		return fmt.Errorf("starting MQTT client: %w", startErr)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if drainErr := rtr.Drain(drainCtx); drainErr != nil {
			log.Warn("router drain timed out", "error", drainErr)
		}
	}()
	defer mqttClient.Disconnect()
	log.Info("MQTT client started", "broker", opts.BrokerURL(), "client_id", opts.ClientID)

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-mqttClient.Done():
		if loopErr := mqttClient.Err(); loopErr != nil {
			return fmt.Errorf("MQTT connection loop ended: %w", loopErr)
		}
	}

	log.Info("access control core stopped")
	return nil
}

// getConfigPath returns ACCESS_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("ACCESS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInfluxDB returns nil without error when InfluxDB is disabled.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// auditSink accepts audit entries without blocking the caller.
type auditSink interface {
	RecordSystemEvent(entry *audit.AuditLog) bool
}

// wireConnectionObservers fans MQTT state transitions and stats snapshots
// out to metrics, the WebSocket feed, the audit trail and InfluxDB.
//
// The state callback runs on the connection loop, so the audit entry goes
// through the API server's queue rather than straight to SQLite.
func wireConnectionObservers(
	client *mqtt.Client,
	rtr *router.Router,
	hub *api.Hub,
	collector *metrics.Collector,
	sink auditSink,
	influxClient *influxdb.Client,
	log *logging.Logger,
) {
	client.SetOnStateChange(func(from, to mqtt.ConnectionState) {
		collector.ObserveStateChange(from, to)
		hub.BroadcastConnectionState(from, to)

		accepted := sink.RecordSystemEvent(&audit.AuditLog{
			Action:     audit.ActionMQTTState,
			EntityType: "mqtt",
			EntityID:   "broker",
			Source:     audit.SourceSystem,
			Details:    map[string]any{"from": from.String(), "to": to.String()},
		})
		if !accepted {
			log.Debug("MQTT state change not audited", "from", from.String(), "to", to.String())
		}
	})

	client.SetStatsObserver(func(stats mqtt.ConnectionStats) {
		collector.ObserveConnectionStats(stats)
		if influxClient != nil {
			influxClient.WriteConnectionStats(stats)
			influxClient.WriteRouterStats(rtr.Stats())
		}
	})
}

// retentionJob trims one table to a retention window.
type retentionJob struct {
	name  string
	keep  time.Duration
	prune func(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop runs every job once an hour until ctx is cancelled.
func pruneLoop(ctx context.Context, log *logging.Logger, jobs ...retentionJob) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runRetention(ctx, log, jobs)
		}
	}
}

func runRetention(ctx context.Context, log *logging.Logger, jobs []retentionJob) {
	for _, job := range jobs {
		n, err := job.prune(ctx, job.keep)
		if err != nil {
			log.Warn("retention prune failed", "table", job.name, "error", err)
			continue
		}
		if n > 0 {
			log.Info("retention prune", "table", job.name, "deleted", n)
		}
	}
}
