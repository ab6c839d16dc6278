// Garden Core - smart garden actuation service
//
// gardencore listens to the garden firmware over MQTT, keeps the live
// telemetry snapshot and device registry, runs leaf images through the
// vision pipeline and turns the resulting diagnosis into timed fan and
// pump runs. A REST and WebSocket API exposes all of it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartgarden/garden-core/internal/api"
	"github.com/smartgarden/garden-core/internal/audit"
	"github.com/smartgarden/garden-core/internal/bus"
	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/history"
	"github.com/smartgarden/garden-core/internal/infrastructure/clickhouse"
	"github.com/smartgarden/garden-core/internal/infrastructure/config"
	"github.com/smartgarden/garden-core/internal/infrastructure/database"
	"github.com/smartgarden/garden-core/internal/infrastructure/influxdb"
	"github.com/smartgarden/garden-core/internal/infrastructure/logging"
	"github.com/smartgarden/garden-core/internal/infrastructure/metrics"
	"github.com/smartgarden/garden-core/internal/infrastructure/mqtt"
	"github.com/smartgarden/garden-core/internal/process"
	"github.com/smartgarden/garden-core/internal/smart"
	"github.com/smartgarden/garden-core/internal/telemetry"
	"github.com/smartgarden/garden-core/internal/vision"
	"github.com/smartgarden/garden-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// healthCheckTimeout bounds the startup probe of every connected backend.
const healthCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
//
// Only configuration, the SQLite database and the API listener are fatal.
// The broker, InfluxDB and ClickHouse are allowed to be missing: without
// the broker smart control starts disabled, without the sinks their
// writes are skipped.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Garden Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"site_id", cfg.Site.ID,
		"site_name", cfg.Site.Name,
		"timezone", cfg.Site.Timezone,
	)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolving site timezone: %w", err)
	}

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	policies, err := loadPolicies(cfg.SmartControl)
	if err != nil {
		return err
	}

	// Stores
	registry := device.NewRegistry()
	registry.SetLogger(log.Component("device"))
	stateHistory := device.NewSQLiteStateHistoryRepository(db.DB)
	registry.AddObserver(device.HistoryObserver(stateHistory, log.Component("device")))

	snapshots := telemetry.NewStore()
	historyStore := history.NewStore(db.DB)
	actions := audit.NewSQLiteRepository(db.DB)

	// Time-series sinks
	influxClient := connectInflux(cfg.InfluxDB, m, log)
	defer func() {
		if influxClient == nil {
			return
		}
		if closeErr := influxClient.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}()

	archive := connectClickHouse(ctx, cfg.ClickHouse, log)
	defer func() {
		if archive == nil {
			return
		}
		if closeErr := archive.Close(); closeErr != nil {
			log.Error("error closing ClickHouse", "error", closeErr)
		}
	}()

	// Database writes run off the bus and executor goroutines. Closed after
	// the broker and executor so their last events are written.
	sinks := newSinkQueue(sinkQueueSize, m, log.Component("sinks"))
	defer sinks.close()

	// Message bus
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT broker unreachable, smart control disabled", "error", err,
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
		mqttClient = nil
	} else {
		mqttClient.SetLogger(log.Component("mqtt"))
		m.RecordBusStatus(true)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	// Actuation
	var (
		actuator  smart.Actuator = offlineActuator{}
		commander smart.Commander
		busStatus api.BusStatus
	)
	if mqttClient != nil {
		c := bus.NewCommander(mqttClient, m)
		actuator = c
		commander = c
		busStatus = mqttClient
	}

	executor := smart.NewExecutor(registry, actuator, smart.ExecutorConfig{
		StopOnShutdown: cfg.SmartControl.StopOnShutdown,
	}, log.Component("executor"))
	defer executor.Close()

	manual := smart.NewManual(commander, log.Component("manual"))

	evaluator := smart.NewEvaluator(policies, registry, smart.EvaluatorConfig{
		MinConfidence:   cfg.SmartControl.MinConfidence,
		PumpWindowStart: cfg.SmartControl.PumpWindowStart,
		PumpWindowEnd:   cfg.SmartControl.PumpWindowEnd,
		Location:        loc,
	})

	diagnoses := diagnosisSink{DiagnosisStore: historyStore}
	if influxClient != nil {
		diagnoses.influx = influxClient
	}

	visionClient := vision.NewClient(cfg.Vision)

	// Optional: run the vision server as a child process
	var visionProcess api.ProcessStatus
	if len(cfg.Vision.Command) > 0 {
		sup, stopVision := startVision(ctx, cfg, visionClient, log, visionRetryInterval)
		defer stopVision()
		visionProcess = sup
	}

	controller := smart.NewController(evaluator, executor, snapshots, diagnoses,
		timedAnalyzer{client: visionClient, metrics: m},
		smart.ControllerConfig{AutoTrigger: cfg.SmartControl.AutoTrigger},
		log.Component("smart"),
	)
	controller.SetEnabled(mqttClient != nil)

	// API
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		Registry:     registry,
		Telemetry:    snapshots,
		Controller:   controller,
		Manual:       manual,
		History:      historyStore,
		Actions:      actions,
		StateHistory: stateHistory,
		Bus:          busStatus,
		DB:           db,
		Metrics:      m,
		VisionURL:    visionClient.URL(),
		Vision:       visionProcess,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	w := &wiring{
		log:      log.Component("wiring"),
		hub:      server.Hub(),
		metrics:  m,
		sinks:    sinks,
		history:  historyStore,
		executor: executor,
	}
	if influxClient != nil {
		w.influx = influxClient
	}
	if archive != nil {
		w.archive = archive
	}

	registry.AddObserver(w.deviceChanged)

	actionObserver := audit.Observer(actions, log.Component("audit"))
	executor.AddObserver(actionObserver)
	executor.AddObserver(w.actionEvent)
	manual.AddObserver(actionObserver)
	manual.AddObserver(w.actionEvent)

	controller.AddCycleObserver(w.cycleCompleted)

	if mqttClient != nil {
		adapter := bus.NewAdapter(snapshots, registry, loc)
		adapter.SetLogger(log.Component("bus"))
		adapter.SetMetrics(m)
		adapter.AddReadingSink(w.readingAccepted)

		mqttClient.SetOnConnect(func() {
			m.RecordBusStatus(true)
			controller.SetEnabled(true)
			log.Info("MQTT reconnected, smart control enabled")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			m.RecordBusStatus(false)
			controller.SetEnabled(false)
			log.Warn("MQTT connection lost, smart control disabled", "error", err)
		})
		mqttClient.SetOnReconnecting(m.RecordBusReconnect)

		if err := adapter.Start(mqttClient, byte(cfg.MQTT.QoS)); err != nil {
			return fmt.Errorf("subscribing to firmware topics: %w", err)
		}
		log.Info("firmware subscriptions active")
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, archive); err != nil {
		log.Warn("initial health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("Garden Core started",
		"smart_control_enabled", controller.Enabled(),
		"policies", len(policies.Labels()),
	)

	<-ctx.Done()

	log.Info("shutting down Garden Core")
	return nil
}

// getConfigPath returns the configuration file path from the environment
// or falls back to the default.
func getConfigPath() string {
	if path := os.Getenv("GARDEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadPolicies returns the configured policy table, or the built-in one
// when no policy file is set.
func loadPolicies(cfg config.SmartControlConfig) (*smart.PolicyTable, error) {
	if cfg.PolicyFile == "" {
		return smart.DefaultPolicies(), nil
	}
	policies, err := smart.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("loading policy file: %w", err)
	}
	return policies, nil
}

// connectInflux returns nil when InfluxDB is disabled or unreachable.
func connectInflux(cfg config.InfluxDBConfig, m *metrics.Metrics, log *logging.Logger) *influxdb.Client {
	if !cfg.Enabled {
		return nil
	}
	client, err := influxdb.Connect(cfg)
	if err != nil {
		log.Warn("InfluxDB unavailable, time-series writes disabled", "error", err, "url", cfg.URL)
		return nil
	}
	client.SetOnError(func(err error) {
		m.RecordSinkError("influxdb")
		log.Warn("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return client
}

// connectClickHouse returns nil when ClickHouse is disabled or unreachable.
func connectClickHouse(ctx context.Context, cfg config.ClickHouseConfig, log *logging.Logger) *clickhouse.Archive {
	if !cfg.Enabled {
		return nil
	}
	archive, err := clickhouse.Connect(ctx, cfg)
	if err != nil {
		log.Warn("ClickHouse unavailable, archiving disabled", "error", err, "addr", cfg.Addr)
		return nil
	}
	log.Info("ClickHouse connected", "addr", cfg.Addr, "database", cfg.Database)
	return archive
}

// visionRetryInterval spaces start attempts for a vision server that did
// not come up.
const visionRetryInterval = 30 * time.Second

// startVision launches the configured vision server and waits for it to
// accept connections. A server that does not come up is logged and retried
// in the background until ctx ends; analyses fail until it is ready. The
// returned stop func ends retries and stops the child.
func startVision(ctx context.Context, cfg *config.Config, client *vision.Client, log *logging.Logger, retry time.Duration) (*process.Supervisor, func()) {
	sup := process.NewSupervisor(process.Config{
		Name:         "vision",
		Command:      cfg.Vision.Command,
		WorkDir:      cfg.Vision.WorkDir,
		Probe:        client.HealthCheck,
		ReadyTimeout: cfg.GetVisionReadyTimeout(),
	})
	sup.SetLogger(log.Component("process"))

	retryCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	stop := func() {
		cancel()
		<-done
		sup.Stop() //nolint:errcheck // always nil
	}

	err := sup.Start(ctx)
	if err == nil {
		log.Info("vision server ready", "pid", sup.Stats().PID)
		close(done)
		return sup, stop
	}
	log.Warn("vision server not ready, analyses will fail", "error", err, "retry_in", retry)

	go func() {
		defer close(done)
		ticker := time.NewTicker(retry)
		defer ticker.Stop()
		for {
			select {
			case <-retryCtx.Done():
				return
			case <-ticker.C:
			}
			if err := sup.Start(retryCtx); err != nil {
				log.Warn("vision server still not ready", "error", err)
				continue
			}
			log.Info("vision server ready", "pid", sup.Stats().PID)
			return
		}
	}()
	return sup, stop
}

// healthCheck verifies every connected backend answers. Nil clients are
// skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, archive *clickhouse.Archive) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var errs []error
	if err := db.HealthCheck(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	if archive != nil {
		if err := archive.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	return errors.Join(errs...)
}
