package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/smartgarden/garden-core/internal/audit"
	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/diagnosis"
	"github.com/smartgarden/garden-core/internal/history"
	"github.com/smartgarden/garden-core/internal/infrastructure/config"
	"github.com/smartgarden/garden-core/internal/infrastructure/database"
	"github.com/smartgarden/garden-core/internal/infrastructure/logging"
	"github.com/smartgarden/garden-core/internal/infrastructure/metrics"
	"github.com/smartgarden/garden-core/internal/process"
	"github.com/smartgarden/garden-core/internal/smart"
	"github.com/smartgarden/garden-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SnapshotReader exposes the live telemetry snapshot.
type SnapshotReader interface {
	Snapshot() telemetry.Snapshot
}

// SmartController is the smart control surface used by the API.
type SmartController interface {
	Enabled() bool
	TriggerSmartControl(ctx context.Context) (smart.CycleResult, error)
	Analyze(ctx context.Context, filename string, image io.Reader) (smart.Analysis, error)
}

// ManualCommander issues operator commands.
type ManualCommander interface {
	Motor(deviceID string, run bool) error
	Servo(angle int) error
	CapturePhoto() error
}

// HistoryReader reads stored diagnoses and readings.
type HistoryReader interface {
	LatestDiagnosis(ctx context.Context) (d diagnosis.Diagnosis, ok bool, err error)
	GetDiagnosis(ctx context.Context, id string) (*history.DiagnosisRecord, error)
	ListDiagnoses(ctx context.Context, limit int) ([]history.DiagnosisRecord, error)
	ListReadings(ctx context.Context, kind telemetry.Kind, limit int) ([]history.Sample, error)
}

// BusStatus reports the broker connection.
type BusStatus interface {
	IsConnected() bool
}

// ProcessStatus reports on a supervised child. *process.Supervisor
// satisfies it.
type ProcessStatus interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server. Registry,
// Telemetry and Controller are required; the rest are optional and the
// matching endpoints answer 503 when absent.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	Registry     *device.Registry
	Telemetry    SnapshotReader
	Controller   SmartController
	Manual       ManualCommander
	History      HistoryReader
	Actions      audit.Repository
	StateHistory device.StateHistoryRepository
	Bus          BusStatus
	DB           *database.DB
	Metrics      *metrics.Metrics
	VisionURL    string
	Vision       ProcessStatus // Set when the core supervises the vision server
	Hub          *Hub          // If set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	logger        *logging.Logger
	registry      *device.Registry
	telemetry     SnapshotReader
	controller    SmartController
	manual        ManualCommander
	history       HistoryReader
	actions       audit.Repository
	stateHistory  device.StateHistoryRepository
	bus           BusStatus
	db            *database.DB
	metrics       *metrics.Metrics
	visionURL     string
	visionProcess ProcessStatus
	version       string
	startTime     time.Time
	server        *http.Server
	hub           *Hub
	primeOnce     sync.Once
	cancel        context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, telemetry, controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry store is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("smart controller is required")
	}

	return &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		registry:      deps.Registry,
		telemetry:     deps.Telemetry,
		controller:    deps.Controller,
		manual:        deps.Manual,
		history:       deps.History,
		actions:       deps.Actions,
		stateHistory:  deps.StateHistory,
		bus:           deps.Bus,
		db:            deps.DB,
		metrics:       deps.Metrics,
		visionURL:     deps.VisionURL,
		visionProcess: deps.Vision,
		version:       deps.Version,
		hub:           deps.Hub,
		startTime:     time.Now(),
	}, nil
}

// Hub returns the WebSocket hub, creating it if needed. Observers wired in
// main broadcast through it.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	s.primeOnce.Do(func() { s.hub.SetSnapshot(s.channelSnapshot) })
	return s.hub
}

// channelSnapshot primes new websocket subscribers with current state.
func (s *Server) channelSnapshot(channel string) (any, bool) {
	switch channel {
	case ChannelTelemetry:
		return s.telemetry.Snapshot(), true
	case ChannelDeviceState:
		return s.registry.List(), true
	}
	return nil, false
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.Hub().Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
