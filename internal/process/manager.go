package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status is the state of a supervised driver.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrGaveUp is returned by Run once MaxRestarts is exhausted.
var ErrGaveUp = errors.New("process: restart limit reached")

// Config describes one driver.
type Config struct {
	Name   string
	Binary string
	Args   []string
	// Env is appended to the core's environment.
	Env []string

	RestartDelay time.Duration
	// MaxRestarts limits restarts. 0 means unlimited.
	MaxRestarts     int
	GracefulTimeout time.Duration

	// StaleAfter kills a driver whose LastSeen is older than this. Zero
	// disables the check.
	StaleAfter time.Duration
	// LastSeen returns when the driver last published on the bus.
	LastSeen func() time.Time
}

// Logger defines the logging interface for the manager.
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

// Manager supervises one driver process.
type Manager struct {
	config Config
	logger Logger

	mu           sync.RWMutex
	cmd          *exec.Cmd
	status       Status
	restartCount int
	lastError    error
	startTime    time.Time
}

// NewManager creates a manager. Zero durations get defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Run starts the driver and keeps it running until ctx is cancelled, at
// which point the driver is stopped and Run returns nil.
//
// Parameters:
//   - ctx: Context whose cancellation stops the driver
//
// Returns:
//   - error: ErrGaveUp once the driver fails after MaxRestarts restarts,
//     nil on cancellation
func (m *Manager) Run(ctx context.Context) error {
	for {
		err := m.runOnce(ctx)
		if ctx.Err() != nil {
			m.setStatus(StatusStopped, nil)
			return nil
		}

		m.setStatus(StatusFailed, err)
		m.logger.Warn("driver exited", "name", m.config.Name, "error", err)

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestarts > 0 && attempt > m.config.MaxRestarts {
			m.logger.Error("driver restart limit reached", "name", m.config.Name, "attempts", attempt-1)
			return fmt.Errorf("%w: %s", ErrGaveUp, m.config.Name)
		}

		m.logger.Info("restarting driver",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", m.config.RestartDelay,
		)
		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped, nil)
			return nil
		case <-time.After(m.config.RestartDelay):
		}
	}
}

// runOnce starts the driver and waits for it to exit, go stale, or for
// ctx to end.
func (m *Manager) runOnce(ctx context.Context) error {
	m.setStatus(StatusStarting, nil)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()
	m.logger.Info("driver started", "name", m.config.Name, "pid", cmd.Process.Pid)

	var output sync.WaitGroup
	output.Add(2)
	go m.captureOutput("stdout", stdout, &output)
	go m.captureOutput("stderr", stderr, &output)

	exitCh := make(chan error, 1)
	go func() {
		output.Wait()
		exitCh <- cmd.Wait()
	}()

	var staleC <-chan time.Time
	if m.config.StaleAfter > 0 && m.config.LastSeen != nil {
		ticker := time.NewTicker(m.config.StaleAfter / 2)
		defer ticker.Stop()
		staleC = ticker.C
	}

	for {
		select {
		case err := <-exitCh:
			if err == nil {
				err = errors.New("exited")
			}
			return err
		case <-ctx.Done():
			m.stop(cmd, exitCh)
			return ctx.Err()
		case <-staleC:
			if since := time.Since(m.config.LastSeen()); since > m.config.StaleAfter {
				m.logger.Warn("driver silent on bus, killing",
					"name", m.config.Name,
					"silent_for", since,
				)
				m.stop(cmd, exitCh)
				return fmt.Errorf("silent on bus for %s", since.Round(time.Second))
			}
		}
	}
}

// stop signals the driver's process group and waits for it to exit.
func (m *Manager) stop(cmd *exec.Cmd, exitCh <-chan error) {
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM", "name", m.config.Name, "error", err)
	}

	select {
	case <-exitCh:
		return
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("driver ignored SIGTERM, killing", "name", m.config.Name)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Error("failed to kill driver", "name", m.config.Name, "error", err)
	}
	<-exitCh
}

func (m *Manager) captureOutput(stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.logger.Debug("driver output",
			"name", m.config.Name,
			"stream", stream,
			"line", sc.Text(),
		)
	}
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	if err != nil {
		m.lastError = err
	}
	if s != StatusRunning {
		m.cmd = nil
	}
}

// Status returns the current status of the driver.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Stats describes a driver for the health endpoint.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the driver.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}
	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
