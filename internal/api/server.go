package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/filaman/spoolscale/internal/credential"
	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/infrastructure/config"
	"github.com/filaman/spoolscale/internal/infrastructure/logging"
	"github.com/filaman/spoolscale/internal/orchestrator"
	"github.com/filaman/spoolscale/internal/printer"
	"github.com/filaman/spoolscale/internal/process"
	"github.com/filaman/spoolscale/internal/tag"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultRegisterTimeout bounds how long POST /api/register waits for the
// dispatcher's reply. It covers the dispatcher tick plus the backend call.
const defaultRegisterTimeout = 10 * time.Second

// StateSource is the device registry as seen by the API.
type StateSource interface {
	Snapshot() (device.State, error)
	Subscribe(buffer int) (<-chan device.Change, func())
}

// Queue accepts outbound backend requests.
type Queue interface {
	Enqueue(r dispatch.Request) bool
	Stats() dispatch.Stats
}

// TagWriter starts tag write sessions.
type TagWriter interface {
	BeginWrite(req tag.WriteRequest) error
	Writing() bool
}

// IntentSubmitter hands user requests to the orchestrator loop.
type IntentSubmitter interface {
	Submit(i orchestrator.Intent) bool
}

// SpoolSetter loads a filament into a printer tray.
type SpoolSetter interface {
	SetSpool(s printer.SpoolSetting) error
}

// Restarter reboots the appliance.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// DriverStats reports one supervised hardware driver.
type DriverStats interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	State       StateSource
	Credentials *credential.Holder
	Queue       Queue
	Tags        TagWriter
	Intents     IntentSubmitter
	// Printer is nil when no printer is configured.
	Printer   SpoolSetter
	Restarter Restarter
	Drivers   []DriverStats
	// MQTTConnected reports the hardware bus connection. Optional.
	MQTTConnected func() bool
	Version       string
	// RegisterTimeout defaults to 10 seconds.
	RegisterTimeout time.Duration
	Clock           clock.PassiveClock
}

// Server is the local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	deps      Deps
	limiter   *IPRateLimiter
	clock     clock.PassiveClock
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()

	// Owned by the state relay goroutine.
	lastTagState device.TagState
	// lastFound is the last nfcTag result pushed, 1 or 0.
	lastFound atomic.Int32
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Config, logger and collaborators; Printer and Drivers may be nil
//
// Returns:
//   - *Server: configured server
//   - error: if a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.State == nil {
		return nil, fmt.Errorf("device state is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("request queue is required")
	}
	if deps.Tags == nil {
		return nil, fmt.Errorf("tag writer is required")
	}
	if deps.Intents == nil {
		return nil, fmt.Errorf("intent submitter is required")
	}
	if deps.RegisterTimeout <= 0 {
		deps.RegisterTimeout = defaultRegisterTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		deps:      deps,
		clock:     deps.Clock,
		startTime: deps.Clock.Now(),
		// No tag state matches, so the first change is always pushed.
		lastTagState: device.TagState(255),
	}
	if rl := deps.Config.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		s.limiter = NewIPRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the state change relay, then launches
// the HTTP listener in a background goroutine. The server can be stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.relayStateChanges(srvCtx)

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
