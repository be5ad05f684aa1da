package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/access-control-core/internal/audit"
	"github.com/nerrad567/access-control-core/internal/device"
	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
	"github.com/nerrad567/access-control-core/internal/infrastructure/logging"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/metrics"
	"github.com/nerrad567/access-control-core/internal/router"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// MQTTClient is the slice of *mqtt.Client the API uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	Stats() mqtt.ConnectionStats
	BufferedMessages() []mqtt.BufferedMessage
}

// RouterStats reports message router counters. Satisfied by *router.Router.
type RouterStats interface {
	Stats() router.Stats
}

// HealthChecker is any store or client with an active health probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	MQTT    MQTTClient
	Devices *device.CommunicationService

	// Optional collaborators. Endpoints backed by a missing one answer 503.
	History   device.StatusHistoryRepository
	AuditRepo audit.Repository
	Router    RouterStats
	Metrics   *metrics.Collector
	Database  HealthChecker
	InfluxDB  HealthChecker

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for the access control core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	mqtt      MQTTClient
	devices   *device.CommunicationService
	history   device.StatusHistoryRepository
	auditRepo audit.Repository
	router    RouterStats
	metrics   *metrics.Collector
	database  HealthChecker
	influx    HealthChecker
	version   string
	startTime time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()

	auditCh chan *audit.AuditLog
	auditWG sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device communication service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		mqtt:      deps.MQTT,
		devices:   deps.Devices,
		history:   deps.History,
		auditRepo: deps.AuditRepo,
		router:    deps.Router,
		metrics:   deps.Metrics,
		database:  deps.Database,
		influx:    deps.InfluxDB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub, for wiring it as a device.Notifier.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected), the audit writer, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditQueueSize)
		s.auditWG.Add(1)
		go func() {
			defer s.auditWG.Done()
			s.drainAuditLog(srvCtx)
		}()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadDuration(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadDuration(),
		WriteTimeout:      s.cfg.Timeouts.WriteDuration(),
		IdleTimeout:       s.cfg.Timeouts.IdleDuration(),
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
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Cancel background goroutines (hub, audit writer) after the listener
	// stops so late requests can still enqueue audit entries.
	if s.cancel != nil {
		s.cancel()
	}
	s.auditWG.Wait()

	if err != nil {
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
