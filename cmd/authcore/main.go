// Auth Core - Passwordless Authentication Service
//
// This is the main entry point for the auth core. It issues one-time
// passcodes over email, exchanges them for an access/refresh token
// pair, and manages the refresh token lifecycle with single-slot
// rotation and a revocation ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/trysts/auth-core/migrations"

	"github.com/trysts/auth-core/internal/api"
	"github.com/trysts/auth-core/internal/audit"
	"github.com/trysts/auth-core/internal/events"
	"github.com/trysts/auth-core/internal/identity"
	"github.com/trysts/auth-core/internal/infrastructure/config"
	"github.com/trysts/auth-core/internal/infrastructure/database"
	"github.com/trysts/auth-core/internal/infrastructure/influxdb"
	"github.com/trysts/auth-core/internal/infrastructure/logging"
	"github.com/trysts/auth-core/internal/infrastructure/mqtt"
	"github.com/trysts/auth-core/internal/ledger"
	"github.com/trysts/auth-core/internal/login"
	"github.com/trysts/auth-core/internal/mail"
	"github.com/trysts/auth-core/internal/token"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting auth core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to Redis for the revocation ledger
	revocations, err := ledger.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		log.Info("closing redis connection")
		if closeErr := revocations.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()
	log.Info("revocation ledger connected", "addr", cfg.Redis.Addr)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
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
	} else {
		log.Info("MQTT disabled, auth events will not be published")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Mail transport for OTP delivery
	sender, err := mail.NewSender(cfg.SMTP)
	if err != nil {
		return fmt.Errorf("initialising mail sender: %w", err)
	}
	log.Info("mail sender initialised", "host", cfg.SMTP.Host, "from", cfg.SMTP.From)

	// Wire the login service
	bus := events.NewBus(mqttClient, byte(cfg.MQTT.QoS), log.With("component", "events"))
	var mailMetrics login.MailMetrics
	if influxClient != nil {
		mailMetrics = influxClient
	}
	svc := login.NewService(login.Deps{
		Users:    identity.NewRepository(db),
		Signer:   token.NewSigner(cfg.Security.JWT.Secret, cfg.Security.AccessTokenTTL(), cfg.Security.RefreshTokenTTL()),
		Ledger:   revocations,
		Mail:     sender,
		Events:   bus,
		Audit:    audit.NewRecorder(db),
		Metrics:  mailMetrics,
		Logger:   log.With("component", "login"),
		Security: cfg.Security,
	})

	// Start the API server
	var metrics api.MetricsRecorder
	if influxClient != nil {
		metrics = influxClient
	}
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Login:    svc,
		Metrics:  metrics,
		Version:  version,
	})
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
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, revocations, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Redis
	// 5. Database

	log.Info("auth core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AUTHCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AUTHCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(
	ctx context.Context,
	db *database.DB,
	revocations *ledger.Ledger,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	server *api.Server,
) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := revocations.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
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

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
