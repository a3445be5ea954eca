package orchestrator

import (
	"context"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
)

type countingRestarter struct{ reasons []string }

func (r *countingRestarter) Restart(_ context.Context, reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

func TestSupervisor_RestartsOnceOnStall(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := &countingRestarter{}
	s := NewSupervisor(clk, 10*time.Second, r)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		clk.Step(2 * time.Second)
		s.Beat()
		if s.check(ctx) {
			t.Fatalf("check() fired while beating (iteration %d)", i)
		}
	}

	clk.Step(10 * time.Second)
	if s.check(ctx) {
		t.Error("check() fired at exactly the timeout")
	}
	clk.Step(time.Millisecond)
	if !s.check(ctx) {
		t.Error("check() did not fire past the timeout")
	}
	clk.Step(time.Minute)
	if s.check(ctx) {
		t.Error("check() fired twice")
	}

	s.Beat()
	clk.Step(time.Minute)
	if s.check(ctx) {
		t.Error("check() fired again after a late beat")
	}
	if len(r.reasons) != 1 {
		t.Errorf("restarts = %d, want 1", len(r.reasons))
	}
}

func TestSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(nil, 0, &countingRestarter{})
	if s.timeout != DefaultLivenessTimeout {
		t.Errorf("timeout = %v, want %v", s.timeout, DefaultLivenessTimeout)
	}
}
