// Facility Review Core - device installation review backend
//
// This is the main entry point for the review core. It serves two audiences:
//   - Contractors on site, authenticated by time-boxed facility QR tokens
//   - Admins reviewing submitted device photos, authenticated by session tokens
//
// Review transitions fan out to the admin live feed, and optionally to MQTT
// and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/facility-review-core/migrations"

	"github.com/nerrad567/facility-review-core/internal/access"
	"github.com/nerrad567/facility-review-core/internal/api"
	"github.com/nerrad567/facility-review-core/internal/audit"
	"github.com/nerrad567/facility-review-core/internal/auth"
	"github.com/nerrad567/facility-review-core/internal/console"
	"github.com/nerrad567/facility-review-core/internal/events"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/config"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/database"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/facility-review-core/internal/provisioning"
	"github.com/nerrad567/facility-review-core/internal/review"
	"github.com/nerrad567/facility-review-core/internal/secrets"
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

// sessionSweepInterval is how often revoked sessions past their expiry are pruned.
const sessionSweepInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting review core",
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

	sc, err := secrets.New(cfg.Security.AppSecret)
	if err != nil {
		return fmt.Errorf("deriving keys: %w", err)
	}

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	admins := auth.NewAdminRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, admins, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}
	sessions := auth.NewSessionRepository(db.DB)

	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	var bus *events.QueuedPublisher
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		// Drained before the client disconnects.
		bus = events.NewQueuedPublisher(mqttClient, 0, log)
		busCtx, stopBus := context.WithCancel(context.Background())
		go bus.Run(busCtx)
		defer func() {
			stopBus()
			<-bus.Done()
		}()
	}

	influxClient, err := connectInfluxDB(cfg, log)
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

	// The recorder outlives the API server so shutdown-time entries are flushed.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, 0, log.Logger)
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	go recorder.Run(recorderCtx)
	defer func() {
		stopRecorder()
		<-recorder.Done()
	}()

	catalog := facility.NewRepository(db.DB, sc)
	codec := access.NewCodec(sc)
	hub := api.NewHub(cfg.WebSocket, log)

	dispatcher := events.NewDispatcher(buildEventsConfig(mqttClient, bus, influxClient, hub, recorder, catalog, log))

	machine := review.NewMachine(review.MachineConfig{
		DB:        db.DB,
		TxMaxWait: cfg.GetTransactionMaxWait(),
		TxTimeout: cfg.GetTransactionTimeout(),
		Logger:    log,
		Observer:  dispatcher,
	})

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Pagination: cfg.Pagination,
		Logger:     log,

		Gate:       access.NewGate(codec, catalog),
		Auth:       auth.NewService(admins, sessions, auth.NewIssuer(sc.SigningKey(), cfg.GetAdminTokenTTL(), nil)),
		Authorizer: auth.NewResourceAuthorizer(db.DB),
		Catalog:    catalog,
		Reviews:    review.NewStore(db.DB),
		Machine:    machine,
		Provisioning: provisioning.NewService(provisioning.Config{
			Codec:   codec,
			AppURL:  cfg.Contractor.AppURL,
			Catalog: catalog,
			Logger:  log,
		}),
		Console:   console.New(cfg.Console, log),
		AuditRepo: auditRepo,
		Audit:     recorder,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	go sweepSessions(ctx, sessions, log)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, audit recorder, InfluxDB, bus queue, MQTT, database.

	log.Info("review core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses REVIEWCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("REVIEWCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects to the broker when enabled. A nil client means the
// bus is disabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	return client, nil
}

// connectInfluxDB connects to InfluxDB when enabled.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	return client, nil
}

// buildEventsConfig assembles the dispatcher sinks. Disabled clients are left
// as nil interfaces so the dispatcher skips them. Bus messages go through the
// queue so review transitions never wait on the broker.
func buildEventsConfig(mqttClient *mqtt.Client, bus *events.QueuedPublisher, influxClient *influxdb.Client, hub *api.Hub, recorder *audit.Recorder, owners events.OwnerLookup, log *logging.Logger) events.Config {
	cfg := events.Config{
		Feed:   hub,
		Audit:  recorder,
		Owners: owners,
		Logger: log,
	}
	if mqttClient != nil && bus != nil {
		cfg.Publisher = bus
		cfg.Topics = mqttClient.Topics()
	}
	if influxClient != nil {
		cfg.Metrics = influxClient
	}
	return cfg
}

// sweepSessions prunes expired revocation records until ctx is cancelled.
func sweepSessions(ctx context.Context, sessions auth.SessionRepository, log *logging.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, time.Now())
			if err != nil {
				log.Warn("pruning revoked sessions failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("pruned revoked sessions", "count", n)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Disabled clients are nil and skipped.
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
