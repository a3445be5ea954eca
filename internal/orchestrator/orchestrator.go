package orchestrator

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/filaman/spoolscale/internal/connectivity"
	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/display"
	"github.com/filaman/spoolscale/internal/tag"
)

const intentBuffer = 16

// Logger defines the logging interface used by the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateStore is the part of the registry the loop reads and writes.
type StateStore interface {
	Snapshot() (device.State, error)
	SetDisplayTakeover(active bool) error
}

// Stepper advances the tag session by one iteration.
type Stepper interface {
	Step(sampleDue bool) (tag.StepResult, error)
}

// Enqueuer accepts outbound requests.
type Enqueuer interface {
	Enqueue(r dispatch.Request) bool
}

// LinkWatchdog checks the network link.
type LinkWatchdog interface {
	Check(ctx context.Context) connectivity.Result
}

// Scale sends commands to the scale driver.
type Scale interface {
	Tare() error
	Calibrate() error
	SetAutoTare(enabled bool) error
}

// Config sets the loop cadences.
type Config struct {
	LoopInterval         time.Duration
	SampleInterval       time.Duration
	HeartbeatInterval    time.Duration
	ConnectivityInterval time.Duration
	StatusInterval       time.Duration
}

// DefaultConfig returns the firmware cadences.
func DefaultConfig() Config {
	return Config{
		LoopInterval:         50 * time.Millisecond,
		SampleInterval:       time.Second,
		HeartbeatInterval:    30 * time.Second,
		ConnectivityInterval: time.Minute,
		StatusInterval:       5 * time.Second,
	}
}

// Deps are the loop's collaborators. Watchdog, Scale and Supervisor may
// be nil.
type Deps struct {
	State       StateStore
	Coordinator Stepper
	Queue       Enqueuer
	Watchdog    LinkWatchdog
	Arbiter     *display.Arbiter
	Renderer    display.Renderer
	Scale       Scale
	Supervisor  *Supervisor
	Clock       clock.WithTicker
}

// Orchestrator is the control loop.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	intents chan Intent
	logger  Logger

	// Loop-goroutine state.
	lastSample    time.Time
	lastHeartbeat time.Time
	lastLink      time.Time
	lastStatus    time.Time
	takeover      bool
	wasPaused     bool
	warnedUncal   bool
}

// New creates an Orchestrator.
//
// Parameters:
//   - deps: Collaborators; State, Coordinator, Queue, Arbiter and Renderer
//     are required
//   - cfg: Loop cadences; zero values get DefaultConfig's
//
// Returns:
//   - *Orchestrator: loop ready to Run
func New(deps Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = def.LoopInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ConnectivityInterval <= 0 {
		cfg.ConnectivityInterval = def.ConnectivityInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	now := deps.Clock.Now()
	return &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		intents:    make(chan Intent, intentBuffer),
		logger:     noopLogger{},
		lastSample: now,
		lastLink:   now,
		lastStatus: now,
		// Zero lastHeartbeat: the first iteration sends one.
		wasPaused: true,
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// Submit hands an intent to the loop. It never blocks and reports
// whether the intent was accepted.
func (o *Orchestrator) Submit(i Intent) bool {
	select {
	case o.intents <- i:
		return true
	default:
		o.logger.Warn("intent dropped, loop busy", "intent", i.Kind.String())
		return false
	}
}

// Run iterates until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := o.deps.Clock.NewTicker(o.cfg.LoopInterval)
	defer ticker.Stop()

	o.logger.Info("control loop started", "interval", o.cfg.LoopInterval)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("control loop stopped")
			return nil
		case <-ticker.C():
			o.iterate(ctx)
		}
	}
}

func (o *Orchestrator) iterate(ctx context.Context) {
	o.drainIntents()
	o.periodic(ctx)
	o.mirrorDisplay()

	s, err := o.deps.State.Snapshot()
	if err != nil {
		return
	}
	if !s.ScaleCalibrated {
		o.renderUncalibrated()
	} else {
		o.warnedUncal = false
		o.stepAndRender(s)
	}

	if o.deps.Supervisor != nil {
		o.deps.Supervisor.Beat()
	}
}

func (o *Orchestrator) drainIntents() {
	for {
		select {
		case i := <-o.intents:
			o.apply(i)
		default:
			return
		}
	}
}

func (o *Orchestrator) apply(i Intent) {
	var err error
	switch i.Kind {
	case IntentReconnect:
		o.deps.Queue.Enqueue(dispatch.Heartbeat())
		o.lastHeartbeat = o.deps.Clock.Now()
	case IntentTare:
		if o.deps.Scale != nil {
			err = o.deps.Scale.Tare()
		}
	case IntentCalibrate:
		if o.deps.Scale != nil {
			err = o.deps.Scale.Calibrate()
		}
	case IntentSetAutoTare:
		if o.deps.Scale != nil {
			err = o.deps.Scale.SetAutoTare(i.Enabled)
		}
	}
	if err != nil {
		o.logger.Warn("intent failed", "intent", i.Kind.String(), "error", err)
	}
}

// periodic runs the cadenced checks. Elapsed time comes from the
// monotonic clock, so there is no counter to wrap.
func (o *Orchestrator) periodic(ctx context.Context) {
	clk := o.deps.Clock

	if o.deps.Watchdog != nil && clk.Since(o.lastLink) >= o.cfg.ConnectivityInterval {
		o.lastLink = clk.Now()
		if res := o.deps.Watchdog.Check(ctx); res.Edge != connectivity.EdgeNone {
			o.refreshStatus()
		}
	}

	if o.lastHeartbeat.IsZero() || clk.Since(o.lastHeartbeat) >= o.cfg.HeartbeatInterval {
		o.lastHeartbeat = clk.Now()
		o.deps.Queue.Enqueue(dispatch.Heartbeat())
	}

	if clk.Since(o.lastStatus) >= o.cfg.StatusInterval {
		o.refreshStatus()
	}
}

func (o *Orchestrator) refreshStatus() {
	o.lastStatus = o.deps.Clock.Now()
	s, err := o.deps.State.Snapshot()
	if err != nil {
		return
	}
	o.deps.Renderer.ShowStatus(display.Status{
		LinkUp:           s.LinkUp,
		BackendConnected: s.BackendConnected,
		Registered:       s.Registered,
	})
}

func (o *Orchestrator) mirrorDisplay() {
	busy := o.deps.Arbiter.Busy()
	if busy == o.takeover {
		return
	}
	if err := o.deps.State.SetDisplayTakeover(busy); err != nil {
		return
	}
	o.takeover = busy
}

func (o *Orchestrator) renderUncalibrated() {
	if o.warnedUncal {
		return
	}
	o.warnedUncal = true
	o.wasPaused = true
	o.deps.Renderer.ShowText("Scale not calibrated")
}

func (o *Orchestrator) stepAndRender(s device.State) {
	paused := o.takeover || s.TagState == device.TagWriting

	sampleDue := o.deps.Clock.Since(o.lastSample) >= o.cfg.SampleInterval
	if sampleDue {
		o.lastSample = o.deps.Clock.Now()
	}
	res, err := o.deps.Coordinator.Step(sampleDue)
	if err != nil {
		return
	}

	if paused {
		o.wasPaused = true
		return
	}
	if o.wasPaused || (res.WeightChanged && res.State.TagState == device.TagIdle) {
		renderWeight(o.deps.Renderer, int(res.State.Weight))
	}
	o.wasPaused = false
}

// renderWeight shows small readings as zero and flags a clearly negative
// reading, which means the scale needs taring.
func renderWeight(r display.Renderer, grams int) {
	switch {
	case grams < -2:
		r.ShowText("!! -0")
	case grams < 2:
		r.ShowWeight(0)
	default:
		r.ShowWeight(grams)
	}
}
