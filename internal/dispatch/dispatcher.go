package dispatch

import (
	"context"
	"errors"
	"math"
	"time"

	"k8s.io/utils/clock"

	"github.com/filaman/spoolscale/internal/backend"
	"github.com/filaman/spoolscale/internal/credential"
	"github.com/filaman/spoolscale/internal/display"
)

const (
	DefaultInterval = time.Second

	remainingDisplayTime = 3 * time.Second
	errorDisplayTime     = 2 * time.Second
	displayOwner         = "dispatch"
)

// Logger defines the logging interface used by the Dispatcher.
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

// Backend is the set of calls the dispatcher makes.
type Backend interface {
	Register(ctx context.Context, baseURL, deviceCode string) (string, error)
	Heartbeat(ctx context.Context, t backend.Target, ipAddress string) error
	SendWeight(ctx context.Context, t backend.Target, r backend.WeightReport) (backend.WeightResult, error)
	SendLocation(ctx context.Context, t backend.Target, r backend.LocationReport) error
	SendRfidResult(ctx context.Context, t backend.Target, r backend.RfidResult) error
}

// StateWriter receives the backend flags the dispatcher is the writer of.
type StateWriter interface {
	SetBackendConnected(connected bool) error
	SetRegistered(registered bool) error
}

// Recorder receives one sample per executed call and one per delivered
// weight report.
type Recorder interface {
	WriteDispatch(kind string, ok bool, elapsed time.Duration)
	WriteWeight(spoolID, tagUUID string, grams int)
}

// Timeouts bounds each kind of call.
type Timeouts struct {
	Register   time.Duration
	Heartbeat  time.Duration
	Weight     time.Duration
	Locate     time.Duration
	RfidResult time.Duration
}

// DefaultTimeouts returns the firmware's HTTP timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Register:   5 * time.Second,
		Heartbeat:  3 * time.Second,
		Weight:     3 * time.Second,
		Locate:     3 * time.Second,
		RfidResult: 5 * time.Second,
	}
}

func (t Timeouts) forKind(k Kind) time.Duration {
	switch k {
	case KindRegister:
		return t.Register
	case KindHeartbeat:
		return t.Heartbeat
	case KindWeightUpdate:
		return t.Weight
	case KindLocationUpdate:
		return t.Locate
	case KindRfidResult:
		return t.RfidResult
	}
	return t.Heartbeat
}

// Config tunes the dispatcher.
type Config struct {
	Interval  time.Duration
	ClaimWait time.Duration
	Timeouts  Timeouts
}

// Deps are the dispatcher's collaborators. Backend, Credentials and State
// are required; the rest may be nil.
type Deps struct {
	Backend     Backend
	Credentials *credential.Holder
	State       StateWriter
	Arbiter     *display.Arbiter
	Renderer    display.Renderer
	Recorder    Recorder
	// LocalAddress reports the device's IP for heartbeats.
	LocalAddress func() string
	Clock        clock.WithTicker
}

// Dispatcher is the single consumer of a Queue.
type Dispatcher struct {
	queue *Queue
	deps  Deps
	cfg   Config

	logger Logger
}

// NewDispatcher creates a dispatcher draining q.
//
// Parameters:
//   - q: Queue to drain
//   - deps: Backend, credential and state collaborators
//   - cfg: Interval, claim wait and per-kind timeouts; zero values get defaults
//
// Returns:
//   - *Dispatcher: dispatcher ready to Run
func NewDispatcher(q *Queue, deps Deps, cfg Config) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = DefaultClaimWait
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.LocalAddress == nil {
		deps.LocalAddress = func() string { return "" }
	}
	return &Dispatcher{queue: q, deps: deps, cfg: cfg, logger: noopLogger{}}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Run executes at most one request per interval until ctx is cancelled.
// A call already in flight when ctx ends runs to completion under its own
// timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := d.deps.Clock.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			d.DispatchOne()
		}
	}
}

// DispatchOne claims the oldest request and executes it. It reports
// whether a request was executed.
func (d *Dispatcher) DispatchOne() bool {
	req, ok := d.queue.Claim(d.cfg.ClaimWait)
	if !ok {
		return false
	}

	// Calls outlive shutdown; only the per-kind timeout ends them.
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeouts.forKind(req.Kind))
	defer cancel()

	start := d.deps.Clock.Now()
	err := d.execute(ctx, req)
	elapsed := d.deps.Clock.Since(start)

	if d.deps.Recorder != nil {
		d.deps.Recorder.WriteDispatch(req.Kind.String(), err == nil, elapsed)
	}
	if err != nil {
		d.logger.Warn("backend call failed",
			"kind", req.Kind.String(),
			"request_id", req.ID.String(),
			"elapsed", elapsed,
			"error", err,
		)
	} else {
		d.logger.Debug("backend call done",
			"kind", req.Kind.String(),
			"request_id", req.ID.String(),
			"elapsed", elapsed,
		)
	}
	return true
}

func (d *Dispatcher) execute(ctx context.Context, req Request) error {
	switch req.Kind {
	case KindRegister:
		return d.register(ctx, req)
	case KindHeartbeat:
		return d.heartbeat(ctx)
	case KindWeightUpdate:
		return d.weight(ctx, req)
	case KindLocationUpdate:
		return d.deps.Backend.SendLocation(ctx, d.target(), backend.LocationReport{
			SpoolID:         req.SpoolID,
			SpoolTagUUID:    req.TagUUID,
			LocationID:      req.LocationID,
			LocationTagUUID: req.PeerTagUUID,
		})
	case KindRfidResult:
		return d.deps.Backend.SendRfidResult(ctx, d.target(), backend.RfidResult{
			Success:      req.Success,
			TagUUID:      req.TagUUID,
			SpoolID:      req.SpoolID,
			LocationID:   req.LocationID,
			ErrorMessage: req.ErrorMessage,
		})
	}
	return nil
}

func (d *Dispatcher) target() backend.Target {
	c := d.deps.Credentials.Current()
	return backend.Target{BaseURL: c.BackendURL, Token: c.DeviceToken}
}

func (d *Dispatcher) register(ctx context.Context, req Request) (err error) {
	defer func() {
		if req.Reply != nil {
			select {
			case req.Reply <- err:
			default:
			}
		}
	}()

	cred := d.deps.Credentials.Current()
	if req.BackendURL != "" && req.BackendURL != cred.BackendURL {
		// The URL is stored before the attempt; a failed registration
		// leaves the previous token in place.
		cred.BackendURL = req.BackendURL
		if setErr := d.deps.Credentials.Set(ctx, cred); setErr != nil {
			d.logger.Error("failed to persist backend url", "error", setErr)
		}
	}

	token, err := d.deps.Backend.Register(ctx, cred.BackendURL, req.DeviceCode)
	if err != nil {
		return err
	}

	cred.DeviceToken = token
	cred.Registered = true
	// A store failure still leaves the device registered for this boot.
	if setErr := d.deps.Credentials.Set(ctx, cred); setErr != nil {
		d.logger.Error("failed to persist credential", "error", setErr)
	}
	d.setRegistered(true)
	d.logger.Info("device registered", "backend_url", cred.BackendURL)
	return nil
}

func (d *Dispatcher) heartbeat(ctx context.Context) error {
	err := d.deps.Backend.Heartbeat(ctx, d.target(), d.deps.LocalAddress())
	switch {
	case err == nil:
		d.setConnected(true)
	case errors.Is(err, backend.ErrUnauthorized):
		d.logger.Warn("device token rejected, registration cleared")
		if invErr := d.deps.Credentials.Invalidate(ctx); invErr != nil {
			d.logger.Error("failed to persist cleared credential", "error", invErr)
		}
		d.setRegistered(false)
	default:
		d.setConnected(false)
	}
	return err
}

func (d *Dispatcher) weight(ctx context.Context, req Request) error {
	res, err := d.deps.Backend.SendWeight(ctx, d.target(), backend.WeightReport{
		SpoolID:        req.SpoolID,
		TagUUID:        req.TagUUID,
		MeasuredWeight: req.MeasuredWeight,
	})
	if err != nil {
		d.banner(display.PriorityError, errorDisplayTime, func(r display.Renderer) {
			r.ShowError("Failure", "API Error")
		})
		return err
	}
	if d.deps.Recorder != nil {
		d.deps.Recorder.WriteWeight(req.SpoolID, req.TagUUID, int(req.MeasuredWeight))
	}
	if res.HasRemaining {
		grams := int(math.Trunc(res.RemainingWeight))
		d.banner(display.PriorityResult, remainingDisplayTime, func(r display.Renderer) {
			r.ShowRemaining(grams)
		})
	}
	return nil
}

func (d *Dispatcher) banner(p display.Priority, dur time.Duration, draw func(display.Renderer)) {
	if d.deps.Arbiter == nil || d.deps.Renderer == nil {
		return
	}
	if _, err := d.deps.Arbiter.Acquire(displayOwner, p, dur); err != nil {
		d.logger.Debug("display busy, banner skipped", "error", err)
		return
	}
	draw(d.deps.Renderer)
}

func (d *Dispatcher) setConnected(v bool) {
	if err := d.deps.State.SetBackendConnected(v); err != nil {
		d.logger.Warn("failed to update backend state", "error", err)
	}
}

func (d *Dispatcher) setRegistered(v bool) {
	if err := d.deps.State.SetRegistered(v); err != nil {
		d.logger.Warn("failed to update registration state", "error", err)
	}
}
