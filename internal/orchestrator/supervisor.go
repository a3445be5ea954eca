package orchestrator

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultLivenessTimeout is how long the loop may go without beating.
const DefaultLivenessTimeout = 10 * time.Second

// Restarter restarts the appliance.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// Supervisor restarts the appliance once if the loop stops beating.
type Supervisor struct {
	clock     clock.WithTicker
	timeout   time.Duration
	restarter Restarter
	logger    Logger

	mu    sync.Mutex
	last  time.Time
	fired bool
}

// NewSupervisor creates a Supervisor. The timeout starts running now.
//
// Parameters:
//   - clk: Clock; nil uses the real clock
//   - timeout: Longest gap between beats before a restart
//   - restarter: Called once when the loop stalls
//
// Returns:
//   - *Supervisor: supervisor ready to Run
func NewSupervisor(clk clock.WithTicker, timeout time.Duration, restarter Restarter) *Supervisor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &Supervisor{
		clock:     clk,
		timeout:   timeout,
		restarter: restarter,
		logger:    noopLogger{},
		last:      clk.Now(),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Beat records that the loop is alive.
func (s *Supervisor) Beat() {
	s.mu.Lock()
	s.last = s.clock.Now()
	s.mu.Unlock()
}

// Run checks for a stall four times per timeout until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.check(ctx)
		}
	}
}

// check restarts the appliance if the loop has stalled. It reports
// whether a restart was requested by this call.
func (s *Supervisor) check(ctx context.Context) bool {
	s.mu.Lock()
	stalled := s.clock.Since(s.last)
	if stalled <= s.timeout || s.fired {
		s.mu.Unlock()
		return false
	}
	s.fired = true
	s.mu.Unlock()

	s.logger.Error("control loop stalled", "since_last_beat", stalled, "timeout", s.timeout)
	if err := s.restarter.Restart(ctx, "control loop stalled"); err != nil {
		s.logger.Error("restart failed", "error", err)
	}
	return true
}
