package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/warden/internal/actuator"
	"github.com/nerrad567/warden/internal/audit"
	"github.com/nerrad567/warden/internal/automation"
	"github.com/nerrad567/warden/internal/dispatch"
	"github.com/nerrad567/warden/internal/infrastructure/config"
	"github.com/nerrad567/warden/internal/infrastructure/database"
	"github.com/nerrad567/warden/internal/infrastructure/logging"
	"github.com/nerrad567/warden/internal/ledger"
	"github.com/nerrad567/warden/internal/safety"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionStatus reports whether an optional integration is connected.
// *mqtt.Client and *influxdb.Client satisfy it.
type ConnectionStatus interface {
	IsConnected() bool
}

// NotifyStats reports notification bus counters. *notify.Bus satisfies it.
type NotifyStats interface {
	Stats() (delivered, dropped uint64)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	Registry     *automation.Registry
	Orchestrator *automation.Orchestrator
	Queue        *dispatch.Queue
	Ledger       *ledger.Ledger
	Safety       *safety.Store
	Actuator     actuator.Actuator // optional: enables GET /resources/{name}
	DB           *database.DB      // optional: health and metrics
	AuditRepo    audit.Repository  // optional: audit history
	Audit        *audit.Recorder   // optional: audit writes
	MQTT         ConnectionStatus  // optional
	InfluxDB     ConnectionStatus  // optional
	Notify       NotifyStats       // optional
	ExternalHub  *Hub              // if set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	registry     *automation.Registry
	orchestrator *automation.Orchestrator
	queue        *dispatch.Queue
	ledger       *ledger.Ledger
	safety       *safety.Store
	actuator     actuator.Actuator
	db           *database.DB
	auditRepo    audit.Repository
	audit        *audit.Recorder
	mqtt         ConnectionStatus
	influx       ConnectionStatus
	notify       NotifyStats
	version      string
	startTime    time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("rule registry is required")
	case deps.Orchestrator == nil:
		return nil, fmt.Errorf("orchestrator is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("dispatch queue is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger is required")
	case deps.Safety == nil:
		return nil, fmt.Errorf("safety store is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		registry:     deps.Registry,
		orchestrator: deps.Orchestrator,
		queue:        deps.Queue,
		ledger:       deps.Ledger,
		safety:       deps.Safety,
		actuator:     deps.Actuator,
		db:           deps.DB,
		auditRepo:    deps.AuditRepo,
		audit:        deps.Audit,
		mqtt:         deps.MQTT,
		influx:       deps.InfluxDB,
		notify:       deps.Notify,
		version:      deps.Version,
		startTime:    time.Now(),
	}

	// The notification bus needs the hub before the server starts, so the
	// caller usually creates it and passes it in.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the websocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}
	s.hub.SetSnapshot(s.ledgerSnapshot)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// HealthCheck verifies the API server is running and responsive.
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
