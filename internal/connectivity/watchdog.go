package connectivity

import (
	"context"
	"sync"
)

// DefaultMaxFailures is the number of consecutive failed checks that
// triggers a restart.
const DefaultMaxFailures = 5

// Logger defines the logging interface used by the Watchdog.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateWriter receives the link status.
type StateWriter interface {
	SetLink(up bool, failures uint8) error
}

// Restarter restarts the appliance.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// Notifier shows a short message on the device and takes it down again.
// Both calls must return without waiting on the display.
type Notifier interface {
	ShowText(text string)
	Clear()
}

// Recorder receives one sample per check.
type Recorder interface {
	WriteLink(up bool, failures int)
}

// Edge describes how the link status moved in a check.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeDown
	EdgeUp
)

// Result is the outcome of one check.
type Result struct {
	Up        bool
	Failures  int
	Edge      Edge
	Restarted bool
}

// Watchdog counts consecutive link failures.
type Watchdog struct {
	link        Link
	state       StateWriter
	restarter   Restarter
	maxFailures int

	notifier Notifier
	recorder Recorder
	logger   Logger

	mu        sync.Mutex
	up        bool
	failures  int
	restarted bool

	// restarting tracks the restart goroutine started by Check.
	restarting sync.WaitGroup
}

// NewWatchdog creates a Watchdog. The link is assumed up at start, as it
// is once provisioning has finished.
func NewWatchdog(link Link, state StateWriter, restarter Restarter, maxFailures int) *Watchdog {
	if maxFailures < 1 {
		maxFailures = DefaultMaxFailures
	}
	return &Watchdog{
		link:        link,
		state:       state,
		restarter:   restarter,
		maxFailures: maxFailures,
		logger:      noopLogger{},
		up:          true,
	}
}

// SetLogger sets the logger for the watchdog.
func (w *Watchdog) SetLogger(logger Logger) {
	w.logger = logger
}

// SetNotifier sets where the reconnecting notice is shown.
func (w *Watchdog) SetNotifier(n Notifier) {
	w.notifier = n
}

// SetRecorder sets the telemetry sink for link samples.
func (w *Watchdog) SetRecorder(r Recorder) {
	w.recorder = r
}

// Check tests the link once and applies the failure policy. It runs on
// the control loop, so the restart itself is started on a separate
// goroutine and Check returns without waiting for it.
//
// Parameters:
//   - ctx: Context for the link test
//
// Returns:
//   - Result: link status, consecutive failures and the edge crossed
func (w *Watchdog) Check(ctx context.Context) Result {
	up := w.link.Up(ctx)

	w.mu.Lock()
	res := Result{Up: up}
	switch {
	case !up:
		if w.up {
			res.Edge = EdgeDown
		}
		w.failures++
		if w.failures >= w.maxFailures && !w.restarted {
			w.restarted = true
			res.Restarted = true
		}
	case !w.up:
		res.Edge = EdgeUp
		w.failures = 0
	default:
		w.failures = 0
	}
	w.up = up
	res.Failures = w.failures
	w.mu.Unlock()

	failures := res.Failures
	if failures > 255 {
		failures = 255
	}
	if err := w.state.SetLink(up, uint8(failures)); err != nil { //nolint:gosec // Clamped above
		w.logger.Warn("failed to record link state", "error", err)
	}
	if w.recorder != nil {
		w.recorder.WriteLink(up, res.Failures)
	}

	switch res.Edge {
	case EdgeDown:
		w.logger.Warn("network link lost, waiting for reconnect")
		if w.notifier != nil {
			w.notifier.ShowText("WiFi reconnecting")
		}
	case EdgeUp:
		w.logger.Info("network link restored")
		if w.notifier != nil {
			w.notifier.Clear()
		}
	}

	if res.Restarted {
		w.logger.Error("network link down too long, restarting", "failures", res.Failures)
		rctx := context.WithoutCancel(ctx)
		w.restarting.Add(1)
		go func() {
			defer w.restarting.Done()
			if err := w.restarter.Restart(rctx, "network link down"); err != nil {
				w.logger.Error("restart failed", "error", err)
			}
		}()
	}
	return res
}

// Wait blocks until a restart started by Check has returned.
func (w *Watchdog) Wait() {
	w.restarting.Wait()
}
