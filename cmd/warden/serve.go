package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/warden/migrations"

	"github.com/nerrad567/warden/internal/actuator"
	"github.com/nerrad567/warden/internal/actuator/docker"
	"github.com/nerrad567/warden/internal/actuator/kube"
	"github.com/nerrad567/warden/internal/api"
	"github.com/nerrad567/warden/internal/audit"
	"github.com/nerrad567/warden/internal/automation"
	"github.com/nerrad567/warden/internal/dispatch"
	"github.com/nerrad567/warden/internal/infrastructure/config"
	"github.com/nerrad567/warden/internal/infrastructure/database"
	"github.com/nerrad567/warden/internal/infrastructure/influxdb"
	"github.com/nerrad567/warden/internal/infrastructure/logging"
	"github.com/nerrad567/warden/internal/infrastructure/mqtt"
	"github.com/nerrad567/warden/internal/infrastructure/telegram"
	"github.com/nerrad567/warden/internal/ledger"
	"github.com/nerrad567/warden/internal/listener"
	"github.com/nerrad567/warden/internal/notify"
	"github.com/nerrad567/warden/internal/safety"
)

// notifyDrainTimeout bounds how long shutdown waits for queued
// notifications to reach their sinks.
const notifyDrainTimeout = 15 * time.Second

// run is the service, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Warden",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer func() {
		_ = log.Close()
	}()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditRecorder := audit.NewRecorder(auditRepo)
	auditRecorder.SetLogger(log)

	// Rules and global settings
	registry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB), automation.GlobalSettings{
		Enabled:               cfg.Automation.Enabled,
		GlobalCooldownSeconds: cfg.Automation.GlobalCooldown,
		Protected:             cfg.Automation.Protected,
		AuditChannel:          cfg.Automation.AuditChannel,
	})
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading rule registry: %w", refreshErr)
	}
	if cfg.Automation.RulesFile != "" {
		if importErr := importRuleFile(ctx, registry, auditRecorder, cfg.Automation.RulesFile, log); importErr != nil {
			return importErr
		}
	}
	log.Info("rule registry initialised", "rules", registry.RuleCount())

	// Execution ledger
	led := ledger.New(ledger.NewSQLiteStore(db.DB), cfg.Ledger.PerResource)
	led.SetLogger(log)
	if loadErr := led.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading ledger: %w", loadErr)
	}

	act, err := newActuator(cfg.Actuator)
	if err != nil {
		return fmt.Errorf("creating actuator: %w", err)
	}
	log.Info("actuator ready", "backend", cfg.Actuator.Backend)

	store := safety.NewStore(safety.Settings{})
	queue := dispatch.New(dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		CommandTimeout: cfg.GetCommandTimeout(),
		Retry: dispatch.RetryPolicy{
			MaxRetries:   cfg.Dispatch.Retry.MaxRetries,
			InitialDelay: time.Duration(cfg.Dispatch.Retry.InitialDelay) * time.Millisecond,
			Multiplier:   cfg.Dispatch.Retry.Multiplier,
			MaxDelay:     time.Duration(cfg.Dispatch.Retry.MaxDelay) * time.Millisecond,
		},
	}, act, store, led)
	queue.SetLogger(log)

	orchestrator := automation.NewOrchestrator(registry, automation.NewMatcher(cfg.GetRegexTimeout()),
		store, queue, cfg.Automation.EventBuffer)
	orchestrator.SetLogger(log)
	orchestrator.SyncSettings()

	// Notifications: every outcome the queue records fans out from here.
	hub := api.NewHub(cfg.WebSocket, log)
	bus := notify.NewBus(cfg.Automation.NotifyBuffer, notify.NewHubSink(hub))
	bus.SetLogger(log)
	queue.AddObserver(bus)

	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		Registry:     registry,
		Orchestrator: orchestrator,
		Queue:        queue,
		Ledger:       led,
		Safety:       store,
		Actuator:     act,
		DB:           db,
		AuditRepo:    auditRepo,
		Audit:        auditRecorder,
		Notify:       bus,
		ExternalHub:  hub,
		Version:      version,
	}

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
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bus.AddSink(notify.NewMQTTSink(mqttClient))
		deps.MQTT = mqttClient

		mqttListener := listener.NewMQTTListener(mqttClient, orchestrator)
		mqttListener.SetLogger(log)
		if startErr := mqttListener.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT listener: %w", startErr)
		}
		defer func() {
			if stopErr := mqttListener.Stop(); stopErr != nil {
				log.Warn("error stopping MQTT listener", "error", stopErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	influxClient, err = influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		bus.AddSink(notify.NewMetricsSink(influxClient))
		deps.InfluxDB = influxClient
	}

	// Connect to Telegram (optional): feedback always, listening if configured
	telegram.SetLogger(log)
	var tgListener *listener.TelegramListener
	tgClient, err := telegram.Connect(cfg.Telegram)
	switch {
	case errors.Is(err, telegram.ErrDisabled):
		log.Info("Telegram disabled")
	case err != nil:
		return fmt.Errorf("connecting to Telegram: %w", err)
	default:
		log.Info("Telegram connected", "bot", tgClient.Username(), "listen", cfg.Telegram.Listen)
		bus.AddSink(notify.NewChatSink(tgClient, func() string {
			return registry.Settings().AuditChannel
		}))
		if cfg.Telegram.Listen {
			tgListener = listener.NewTelegramListener(tgClient, orchestrator)
			tgListener.SetLogger(log)
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// The bus outlives the other loops so outcomes recorded while the
	// queue stops (cancelled delays) still reach their sinks.
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		_ = bus.Run(busCtx)
	}()

	queue.Start()

	server, err := api.New(deps)
	if err != nil {
		queue.Stop()
		stopBus()
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		queue.Stop()
		stopBus()
		return fmt.Errorf("starting API server: %w", startErr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return orchestrator.Run(gctx)
	})
	if tgListener != nil {
		g.Go(func() error {
			return tgListener.Run(gctx)
		})
	}
	if cfg.Automation.RulesFile != "" && cfg.Automation.WatchRulesFile {
		path := cfg.Automation.RulesFile
		g.Go(func() error {
			return automation.WatchRuleFile(gctx, path, func() {
				if importErr := importRuleFile(gctx, registry, auditRecorder, path, log); importErr != nil {
					log.Error("rule file reload failed", "path", path, "error", importErr)
				}
			}, log)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	waitErr := g.Wait()

	log.Info("shutdown signal received, cleaning up")
	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	log.Info("stopping dispatch queue")
	queue.Stop()

	stopBus()
	select {
	case <-busDone:
	case <-time.After(notifyDrainTimeout):
		log.Warn("notification drain timed out")
	}
	delivered, dropped := bus.Stats()
	log.Info("notification bus stopped", "delivered", delivered, "dropped", dropped)

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	log.Info("Warden stopped")
	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")
	return db, nil
}

// importRuleFile loads path and upserts its rules into the registry.
func importRuleFile(ctx context.Context, registry *automation.Registry, rec *audit.Recorder, path string, log *logging.Logger) error {
	rules, err := automation.LoadRuleFile(path)
	if err != nil {
		return fmt.Errorf("loading rule file: %w", err)
	}
	// Invalid rules are skipped; only storage failures abort the import.
	n, err := registry.Import(ctx, rules)
	switch {
	case err == nil:
	case automation.IsValidationError(err):
		log.Warn("skipped invalid rules in rule file", "path", path, "error", err)
	default:
		return fmt.Errorf("importing rule file: %w", err)
	}
	log.Info("rule file imported", "path", path, "rules", n)
	rec.Record(ctx, audit.ActionImport, audit.EntityRule, "", audit.SourceRuleFile, map[string]any{
		"path":     path,
		"imported": n,
		"in_file":  len(rules),
	})
	return nil
}

// newActuator builds the configured resource backend.
func newActuator(cfg config.ActuatorConfig) (actuator.Actuator, error) {
	switch cfg.Backend {
	case "kubernetes":
		return kube.Connect(kube.Config{
			Kubeconfig: cfg.Kubernetes.Kubeconfig,
			Namespace:  cfg.Kubernetes.Namespace,
		})
	case "docker", "":
		return docker.Connect(docker.Config{
			Host:       cfg.Docker.Host,
			APIVersion: cfg.Docker.APIVersion,
		})
	default:
		return nil, fmt.Errorf("unknown actuator backend %q", cfg.Backend)
	}
}

// healthCheck verifies infrastructure connections before serving.
// Clients that are disabled are passed as nil and skipped.
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
