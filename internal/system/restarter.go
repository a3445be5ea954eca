// Package system restarts the appliance when the core gives up on itself.
package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ExitCode is used when no restart command is configured. The service
// manager is expected to start the core again.
const ExitCode = 75

const commandTimeout = 30 * time.Second

// ErrAlreadyRestarting is returned by every Restart call after the first.
var ErrAlreadyRestarting = errors.New("system: restart already requested")

// Logger defines the logging interface used by the Restarter.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Restarter runs the configured restart command, or exits the process.
type Restarter struct {
	command []string
	exit    func(code int)
	run     func(ctx context.Context, name string, args ...string) error

	once   sync.Once
	logger Logger
}

// NewRestarter creates a Restarter. An empty command makes Restart exit
// the process with ExitCode.
func NewRestarter(command []string) *Restarter {
	return &Restarter{
		command: command,
		exit:    os.Exit,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run() //nolint:gosec // Command comes from config
		},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the restarter.
func (r *Restarter) SetLogger(logger Logger) {
	r.logger = logger
}

// Restart restarts the appliance. Only the first call acts.
//
// Parameters:
//   - ctx: Parent context for the restart command, capped at 30s
//   - reason: Logged with the restart
//
// Returns:
//   - error: ErrAlreadyRestarting after the first call, or the command's
//     error (the process then exits anyway)
func (r *Restarter) Restart(ctx context.Context, reason string) error {
	err := ErrAlreadyRestarting
	r.once.Do(func() {
		r.logger.Error("restarting", "reason", reason, "command", r.command)
		if len(r.command) == 0 {
			r.exit(ExitCode)
			err = nil
			return
		}

		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if runErr := r.run(ctx, r.command[0], r.command[1:]...); runErr != nil {
			r.logger.Error("restart command failed, exiting", "error", runErr)
			r.exit(ExitCode)
			err = fmt.Errorf("running restart command: %w", runErr)
			return
		}
		err = nil
	})
	return err
}
