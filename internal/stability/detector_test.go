package stability

import (
	"testing"

	"github.com/filaman/spoolscale/internal/device"
)

// feed plays weights into s the way the orchestrator does: each reading is
// present for at least one loop iteration (refreshing LastWeight) before
// the sample tick that evaluates it. It returns the 1-based sample numbers
// that fired.
func feed(d *Detector, s *device.State, weights []int16) []int {
	var fired []int
	for i, w := range weights {
		s.Weight = w
		s.LastWeight = s.Weight
		if d.Sample(s) {
			fired = append(fired, i+1)
		}
	}
	return fired
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSample_Sequences(t *testing.T) {
	tests := []struct {
		name    string
		weights []int16
		want    []int
	}{
		{"four stable samples fire once", []int16{50, 50, 50, 50}, []int{4}},
		{"three stable samples do not fire", []int16{50, 50, 50}, nil},
		{"drop resets counter", []int16{50, 50, 3, 50, 50, 50, 50}, []int{7}},
		{"fires once per session", []int16{50, 50, 50, 50, 50, 50, 50, 50}, []int{4}},
		{"empty platform never settles", []int16{5, 5, 5, 5, 5, 5}, nil},
		{"noise near zero never settles", []int16{2, 1, 3, 2, 1, 2}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(DefaultConfig())
			s := &device.State{TagState: device.TagReadSuccess, ActiveTagUUID: "04:5c:42"}

			got := feed(d, s, tt.weights)
			if !equalInts(got, tt.want) {
				t.Errorf("fired on samples %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSample_ToleranceBand(t *testing.T) {
	d := New(DefaultConfig())

	tests := []struct {
		name      string
		last, now int16
		wantCount uint8
	}{
		{"within +2", 100, 102, 1},
		{"within -2", 100, 98, 1},
		{"outside +3", 100, 103, 0},
		{"outside -3", 100, 97, 0},
		{"at minimum is not above it", 5, 5, 0},
		{"just above minimum", 6, 6, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &device.State{TagState: device.TagIdle, Weight: tt.now, LastWeight: tt.last}
			d.Sample(s)
			if s.StabilityCount != tt.wantCount {
				t.Errorf("StabilityCount = %d, want %d", s.StabilityCount, tt.wantCount)
			}
		})
	}
}

func TestSample_IdleCountsButNeverFires(t *testing.T) {
	d := New(DefaultConfig())
	s := &device.State{TagState: device.TagIdle}

	if fired := feed(d, s, []int16{80, 80, 80, 80, 80, 80}); len(fired) != 0 {
		t.Errorf("fired in idle on samples %v", fired)
	}
	if s.StabilityCount != 6 {
		t.Errorf("StabilityCount = %d, want 6", s.StabilityCount)
	}
	if s.TagProcessed {
		t.Error("TagProcessed set in idle")
	}
}

func TestSample_ProcessedSessionDoesNotFire(t *testing.T) {
	d := New(DefaultConfig())
	s := &device.State{TagState: device.TagReadSuccess, TagProcessed: true}

	if fired := feed(d, s, []int16{50, 50, 50, 50, 50}); len(fired) != 0 {
		t.Errorf("fired for processed session on samples %v", fired)
	}
}

func TestSample_ResetsOutsideReadWindow(t *testing.T) {
	d := New(DefaultConfig())

	for _, state := range []device.TagState{
		device.TagReading, device.TagReadError,
		device.TagWriting, device.TagWriteSuccess, device.TagWriteError,
	} {
		s := &device.State{TagState: state, Weight: 50, LastWeight: 50, StabilityCount: 3}
		if d.Sample(s) {
			t.Errorf("%v: Sample() fired", state)
		}
		if s.StabilityCount != 0 {
			t.Errorf("%v: StabilityCount = %d, want 0", state, s.StabilityCount)
		}
	}
}

func TestSample_CounterSaturates(t *testing.T) {
	d := New(DefaultConfig())
	s := &device.State{TagState: device.TagIdle, Weight: 50, LastWeight: 50, StabilityCount: 255}

	d.Sample(s)
	if s.StabilityCount != 255 {
		t.Errorf("StabilityCount = %d, want 255", s.StabilityCount)
	}
}

func TestReset(t *testing.T) {
	s := &device.State{StabilityCount: 4}
	Reset(s)
	if s.StabilityCount != 0 {
		t.Errorf("StabilityCount = %d, want 0", s.StabilityCount)
	}
}

func TestCheck_TagReadOnSettledSpool(t *testing.T) {
	d := New(DefaultConfig())
	s := &device.State{TagState: device.TagIdle}

	// The spool settles before any tag is read.
	feed(d, s, []int16{300, 300, 300, 300, 300})
	if s.TagProcessed {
		t.Fatal("fired while idle")
	}

	s.TagState = device.TagReadSuccess
	s.ActiveSpoolID = "42"
	if !d.Check(s) {
		t.Error("Check() = false after read on settled spool")
	}
	if d.Check(s) {
		t.Error("Check() fired twice for one session")
	}
}

func TestCheck_RequiresSpoolIdentity(t *testing.T) {
	d := New(DefaultConfig())

	tests := []struct {
		name  string
		state device.State
		want  bool
	}{
		{"no identity", device.State{ActiveLocationID: "7"}, false},
		{"spool id only", device.State{ActiveSpoolID: "42"}, true},
		{"tag uuid only", device.State{ActiveTagUUID: "04:5c:42"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.state
			s.TagState = device.TagReadSuccess
			s.StabilityCount = 4

			if got := d.Check(&s); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
			if s.TagProcessed != tt.want {
				t.Errorf("TagProcessed = %v, want %v", s.TagProcessed, tt.want)
			}
		})
	}
}
