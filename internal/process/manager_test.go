package process

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "scale", Binary: "/usr/bin/true"})

	if m.config.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v, want 2s", m.config.RestartDelay)
	}
	if m.config.GracefulTimeout != 5*time.Second {
		t.Errorf("GracefulTimeout = %v, want 5s", m.config.GracefulTimeout)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	stats := m.Stats()
	if stats.Name != "scale" || stats.PID != 0 || stats.Uptime != 0 || stats.RestartCount != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestManager_GivesUpAfterMaxRestarts(t *testing.T) {
	m := NewManager(Config{
		Name:         "flaky",
		Binary:       "/bin/false",
		RestartDelay: 10 * time.Millisecond,
		MaxRestarts:  2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Run(ctx); !errors.Is(err, ErrGaveUp) {
		t.Fatalf("Run() error = %v, want ErrGaveUp", err)
	}
	if got := m.Stats().RestartCount; got != 3 {
		t.Errorf("RestartCount = %d, want 3", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_MissingBinary(t *testing.T) {
	m := NewManager(Config{
		Name:         "ghost",
		Binary:       "/nonexistent/driver",
		MaxRestarts:  1,
		RestartDelay: time.Millisecond,
	})

	if err := m.Run(context.Background()); !errors.Is(err, ErrGaveUp) {
		t.Errorf("Run() error = %v, want ErrGaveUp", err)
	}
	if m.Stats().LastError == "" {
		t.Error("LastError empty after failed start")
	}
}

func TestManager_StopsOnCancel(t *testing.T) {
	m := NewManager(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"30"},
		GracefulTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.Status() != StatusRunning && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if m.Status() != StatusRunning {
		t.Fatalf("Status() = %q, want running", m.Status())
	}
	if m.Stats().PID == 0 {
		t.Error("PID = 0 while running")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want stopped", m.Status())
	}
}

func TestManager_KillsSilentDriver(t *testing.T) {
	m := NewManager(Config{
		Name:            "mute",
		Binary:          "/bin/sleep",
		Args:            []string{"30"},
		GracefulTimeout: time.Second,
		StaleAfter:      40 * time.Millisecond,
		LastSeen:        func() time.Time { return time.Now().Add(-time.Hour) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for m.Stats().RestartCount == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	stats := m.Stats()
	if stats.RestartCount == 0 {
		t.Fatal("silent driver was not restarted")
	}
	if stats.LastError == "" {
		t.Error("LastError empty after stale kill")
	}
}
