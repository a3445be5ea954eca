package device

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// startRegistry runs a registry until the test ends.
func startRegistry(t *testing.T, initial State) *Registry {
	t.Helper()
	r := NewRegistry(initial)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx) //nolint:errcheck // Always nil
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := startRegistry(t, State{TagPayload: json.RawMessage(`{"sm_id":"42"}`)})

	snap, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	snap.TagPayload[0] = 'X'
	snap.Weight = 999

	again, _ := r.Snapshot()
	if string(again.TagPayload) != `{"sm_id":"42"}` {
		t.Errorf("TagPayload mutated through snapshot: %s", again.TagPayload)
	}
	if again.Weight != 0 {
		t.Errorf("Weight = %d, want 0", again.Weight)
	}
}

func TestRegistry_TypedSetters(t *testing.T) {
	r := startRegistry(t, State{})

	if err := r.SetWeight(812, true); err != nil {
		t.Fatalf("SetWeight() error = %v", err)
	}
	if err := r.SetAutoTare(true); err != nil {
		t.Fatalf("SetAutoTare() error = %v", err)
	}
	if err := r.SetLink(false, 3); err != nil {
		t.Fatalf("SetLink() error = %v", err)
	}
	if err := r.SetBackendConnected(true); err != nil {
		t.Fatalf("SetBackendConnected() error = %v", err)
	}
	if err := r.SetRegistered(true); err != nil {
		t.Fatalf("SetRegistered() error = %v", err)
	}
	if err := r.SetDisplayTakeover(true); err != nil {
		t.Fatalf("SetDisplayTakeover() error = %v", err)
	}

	s, _ := r.Snapshot()
	if s.Weight != 812 || !s.ScaleCalibrated || !s.AutoTare {
		t.Errorf("scale fields = %d/%v/%v", s.Weight, s.ScaleCalibrated, s.AutoTare)
	}
	if s.LinkUp || s.LinkFailureCount != 3 {
		t.Errorf("link fields = %v/%d", s.LinkUp, s.LinkFailureCount)
	}
	if !s.BackendConnected || !s.Registered || !s.DisplayTakeover {
		t.Errorf("backend/display fields = %v/%v/%v", s.BackendConnected, s.Registered, s.DisplayTakeover)
	}

	if err := r.SetRegistered(false); err != nil {
		t.Fatalf("SetRegistered(false) error = %v", err)
	}
	s, _ = r.Snapshot()
	if s.BackendConnected {
		t.Error("BackendConnected still true after registration was cleared")
	}
}

func TestRegistry_UpdateIsAtomic(t *testing.T) {
	r := startRegistry(t, State{})

	const workers, increments = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				if _, err := r.Update(func(s *State) { s.Weight++ }); err != nil {
					t.Errorf("Update() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	s, _ := r.Snapshot()
	if s.Weight != workers*increments {
		t.Errorf("Weight = %d, want %d", s.Weight, workers*increments)
	}
}

func TestRegistry_SubscribeReceivesChanges(t *testing.T) {
	r := startRegistry(t, State{})
	changes, cancel := r.Subscribe(8)
	defer cancel()

	if err := r.SetWeight(50, true); err != nil {
		t.Fatalf("SetWeight() error = %v", err)
	}
	// No-op update produces no change.
	if _, err := r.Update(func(*State) {}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := r.Update(func(s *State) { s.TagState = TagReading }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	first := receive(t, changes)
	if !first.Fields.Has(FieldWeight) || !first.Fields.Has(FieldScale) {
		t.Errorf("first change fields = %b, want weight|scale", first.Fields)
	}
	if first.State.Weight != 50 {
		t.Errorf("first change weight = %d, want 50", first.State.Weight)
	}

	second := receive(t, changes)
	if second.Fields != FieldTag {
		t.Errorf("second change fields = %b, want tag only", second.Fields)
	}
	if second.State.TagState != TagReading {
		t.Errorf("second change tag state = %v, want reading", second.State.TagState)
	}
}

func TestRegistry_SlowSubscriberDoesNotBlock(t *testing.T) {
	r := startRegistry(t, State{})
	_, cancel := r.Subscribe(1)
	defer cancel()

	for i := int16(1); i <= 20; i++ {
		if err := r.SetWeight(i, true); err != nil {
			t.Fatalf("SetWeight(%d) error = %v", i, err)
		}
	}

	s, _ := r.Snapshot()
	if s.Weight != 20 {
		t.Errorf("Weight = %d, want 20", s.Weight)
	}
}

func TestRegistry_CancelClosesChannel(t *testing.T) {
	r := startRegistry(t, State{})
	changes, cancel := r.Subscribe(1)

	cancel()
	cancel()

	if _, ok := <-changes; ok {
		t.Error("channel still open after cancel")
	}
}

func TestRegistry_ClosedAfterRun(t *testing.T) {
	r := NewRegistry(State{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx) //nolint:errcheck // Always nil
	}()

	changes, _ := r.Subscribe(1)
	cancel()
	<-done

	if _, err := r.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Errorf("Snapshot() error = %v, want ErrClosed", err)
	}
	if err := r.SetWeight(1, true); !errors.Is(err, ErrClosed) {
		t.Errorf("SetWeight() error = %v, want ErrClosed", err)
	}
	if _, ok := <-changes; ok {
		t.Error("subscriber channel still open after Run returned")
	}

	late, _ := r.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscription after shutdown returned an open channel")
	}
}

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("change channel closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
	}
	return Change{}
}
