package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/filaman/spoolscale/internal/backend"
	"github.com/filaman/spoolscale/internal/credential"
	"github.com/filaman/spoolscale/internal/display"
	"github.com/filaman/spoolscale/internal/infrastructure/database"
	"github.com/filaman/spoolscale/migrations"
)

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	targets   []backend.Target
	token     string
	err       error
	remaining *float64
}

func (f *fakeBackend) record(name string, t backend.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.targets = append(f.targets, t)
	return f.err
}

func (f *fakeBackend) Register(_ context.Context, baseURL, _ string) (string, error) {
	if err := f.record("register", backend.Target{BaseURL: baseURL}); err != nil {
		return "", err
	}
	return f.token, nil
}

func (f *fakeBackend) Heartbeat(_ context.Context, t backend.Target, _ string) error {
	return f.record("heartbeat", t)
}

func (f *fakeBackend) SendWeight(_ context.Context, t backend.Target, _ backend.WeightReport) (backend.WeightResult, error) {
	if err := f.record("weight", t); err != nil {
		return backend.WeightResult{}, err
	}
	if f.remaining != nil {
		return backend.WeightResult{RemainingWeight: *f.remaining, HasRemaining: true}, nil
	}
	return backend.WeightResult{}, nil
}

func (f *fakeBackend) SendLocation(_ context.Context, t backend.Target, _ backend.LocationReport) error {
	return f.record("locate", t)
}

func (f *fakeBackend) SendRfidResult(_ context.Context, t backend.Target, _ backend.RfidResult) error {
	return f.record("rfid", t)
}

type fakeState struct {
	mu         sync.Mutex
	connected  *bool
	registered *bool
}

func (f *fakeState) SetBackendConnected(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = &v
	return nil
}

func (f *fakeState) SetRegistered(v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = &v
	return nil
}

type fakeRenderer struct {
	remaining []int
	errors    []string
}

func (r *fakeRenderer) ShowWeight(int)            {}
func (r *fakeRenderer) ShowText(string)           {}
func (r *fakeRenderer) ShowStatus(display.Status) {}
func (r *fakeRenderer) ShowRemaining(grams int)   { r.remaining = append(r.remaining, grams) }
func (r *fakeRenderer) ShowError(title, detail string) {
	r.errors = append(r.errors, title+" / "+detail)
}

type fakeRecorder struct {
	kinds   []string
	oks     []bool
	weights []int
}

func (r *fakeRecorder) WriteDispatch(kind string, ok bool, _ time.Duration) {
	r.kinds = append(r.kinds, kind)
	r.oks = append(r.oks, ok)
}

func (r *fakeRecorder) WriteWeight(_, _ string, grams int) {
	r.weights = append(r.weights, grams)
}

// memStore is an in-memory credential store.
type memStore struct {
	saved *credential.Credential
}

func (m *memStore) Load(context.Context) (credential.Credential, error) {
	if m.saved == nil {
		return credential.Credential{}, credential.ErrNotFound
	}
	return *m.saved, nil
}

func (m *memStore) Save(_ context.Context, c credential.Credential) error {
	m.saved = &c
	return nil
}

type harness struct {
	queue    *Queue
	disp     *Dispatcher
	backend  *fakeBackend
	state    *fakeState
	store    *memStore
	holder   *credential.Holder
	renderer *fakeRenderer
	arbiter  *display.Arbiter
	recorder *fakeRecorder
	clock    *clocktesting.FakeClock
}

func newHarness(t *testing.T, initial credential.Credential) *harness {
	t.Helper()
	h := &harness{
		queue:    NewQueue(DefaultCapacity, 0),
		backend:  &fakeBackend{token: "tok-new"},
		state:    &fakeState{},
		store:    &memStore{saved: &initial},
		renderer: &fakeRenderer{},
		recorder: &fakeRecorder{},
		clock:    clocktesting.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.holder = credential.NewHolder(h.store, initial)
	h.arbiter = display.NewArbiter(h.clock)
	h.disp = NewDispatcher(h.queue, Deps{
		Backend:     h.backend,
		Credentials: h.holder,
		State:       h.state,
		Arbiter:     h.arbiter,
		Renderer:    h.renderer,
		Recorder:    h.recorder,
		Clock:       h.clock,
	}, Config{})
	return h
}

var registered = credential.Credential{BackendURL: "http://filaman.local", DeviceToken: "tok-old", Registered: true}

func TestDispatcher_EmptyQueue(t *testing.T) {
	h := newHarness(t, registered)
	if h.disp.DispatchOne() {
		t.Error("DispatchOne() on empty queue = true")
	}
}

func TestDispatcher_OneRequestPerCall(t *testing.T) {
	h := newHarness(t, registered)
	h.queue.Enqueue(WeightUpdate("1", "", 10))
	h.queue.Enqueue(LocationUpdate("1", "", "2", ""))

	h.disp.DispatchOne()
	if got := len(h.backend.calls); got != 1 {
		t.Fatalf("calls after one dispatch = %d, want 1", got)
	}
	h.disp.DispatchOne()
	if got := h.backend.calls; len(got) != 2 || got[0] != "weight" || got[1] != "locate" {
		t.Errorf("calls = %v, want [weight locate]", got)
	}
	if got := h.backend.targets[0]; got.Token != "tok-old" || got.BaseURL != "http://filaman.local" {
		t.Errorf("target = %+v", got)
	}
	if len(h.recorder.kinds) != 2 || h.recorder.kinds[0] != "weight_update" {
		t.Errorf("recorded kinds = %v", h.recorder.kinds)
	}
}

func TestDispatcher_Heartbeat(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantConnected  *bool
		wantRegistered *bool
		wantToken      string
	}{
		{"success", nil, ptr(true), nil, "tok-old"},
		{"transport failure", backend.ErrRequestFailed, ptr(false), nil, "tok-old"},
		{"server error", &backend.StatusError{Endpoint: "/hb", Code: 500}, ptr(false), nil, "tok-old"},
		{"token rejected", &backend.StatusError{Endpoint: "/hb", Code: 401}, nil, ptr(false), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, registered)
			h.backend.err = tt.err
			h.queue.Enqueue(Heartbeat())
			h.disp.DispatchOne()

			if !equalPtr(h.state.connected, tt.wantConnected) {
				t.Errorf("BackendConnected = %v, want %v", deref(h.state.connected), deref(tt.wantConnected))
			}
			if !equalPtr(h.state.registered, tt.wantRegistered) {
				t.Errorf("Registered = %v, want %v", deref(h.state.registered), deref(tt.wantRegistered))
			}
			if got := h.store.saved.DeviceToken; got != tt.wantToken {
				t.Errorf("persisted token = %q, want %q", got, tt.wantToken)
			}
		})
	}
}

func TestDispatcher_WeightDisplay(t *testing.T) {
	t.Run("remaining weight shown for three seconds", func(t *testing.T) {
		h := newHarness(t, registered)
		rem := 812.7
		h.backend.remaining = &rem
		h.queue.Enqueue(WeightUpdate("7", "04:aa", 1000))
		h.disp.DispatchOne()

		if len(h.renderer.remaining) != 1 || h.renderer.remaining[0] != 812 {
			t.Errorf("ShowRemaining calls = %v, want [812]", h.renderer.remaining)
		}
		c, ok := h.arbiter.Active()
		if !ok || c.Expires.Sub(h.clock.Now()) != 3*time.Second {
			t.Errorf("Active() = %+v, %v, want 3s claim", c, ok)
		}
	})

	t.Run("no remaining weight leaves screen alone", func(t *testing.T) {
		h := newHarness(t, registered)
		h.queue.Enqueue(WeightUpdate("7", "", 1000))
		h.disp.DispatchOne()

		if h.arbiter.Busy() {
			t.Error("display claimed without remaining weight")
		}
		if len(h.recorder.weights) != 1 || h.recorder.weights[0] != 1000 {
			t.Errorf("recorded weights = %v, want [1000]", h.recorder.weights)
		}
	})

	t.Run("failure shows error for two seconds", func(t *testing.T) {
		h := newHarness(t, registered)
		h.backend.err = backend.ErrRequestFailed
		h.queue.Enqueue(WeightUpdate("7", "", 1000))
		h.disp.DispatchOne()

		if len(h.renderer.errors) != 1 || h.renderer.errors[0] != "Failure / API Error" {
			t.Errorf("ShowError calls = %v", h.renderer.errors)
		}
		c, ok := h.arbiter.Active()
		if !ok || c.Expires.Sub(h.clock.Now()) != 2*time.Second {
			t.Errorf("Active() = %+v, %v, want 2s claim", c, ok)
		}
		if h.recorder.oks[0] {
			t.Error("recorded ok = true for failed call")
		}
		if len(h.recorder.weights) != 0 {
			t.Errorf("recorded weights = %v, want none", h.recorder.weights)
		}
	})
}

func TestDispatcher_Register(t *testing.T) {
	t.Run("success stores token", func(t *testing.T) {
		h := newHarness(t, credential.Credential{})
		req := Register("http://new.local", "ABC123")
		h.queue.Enqueue(req)
		h.disp.DispatchOne()

		if err := <-req.Reply; err != nil {
			t.Fatalf("Reply = %v", err)
		}
		want := credential.Credential{BackendURL: "http://new.local", DeviceToken: "tok-new", Registered: true}
		if got := *h.store.saved; got != want {
			t.Errorf("persisted = %+v, want %+v", got, want)
		}
		if got := h.holder.Current(); got != want {
			t.Errorf("Current() = %+v, want %+v", got, want)
		}
		if !deref(h.state.registered) {
			t.Error("Registered not set")
		}
	})

	t.Run("failure keeps previous token", func(t *testing.T) {
		h := newHarness(t, registered)
		h.backend.err = &backend.StatusError{Endpoint: "/register", Code: 400}
		req := Register("http://other.local", "BAD")
		h.queue.Enqueue(req)
		h.disp.DispatchOne()

		if err := <-req.Reply; !errors.Is(err, backend.ErrRequestFailed) {
			t.Errorf("Reply = %v, want ErrRequestFailed", err)
		}
		got := *h.store.saved
		if got.BackendURL != "http://other.local" || got.DeviceToken != "tok-old" || !got.Registered {
			t.Errorf("persisted = %+v", got)
		}
		if h.state.registered != nil {
			t.Error("registration state changed on failure")
		}
	})
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, registered)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.disp.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

// TestDispatcher_RegisterAndReloadSQLite runs registration against a real
// HTTP server, persists to SQLite, then a 401 heartbeat clears it and the
// cleared credential survives a reload.
func TestDispatcher_RegisterAndReloadSQLite(t *testing.T) {
	var heartbeatStatus atomic.Int32
	heartbeatStatus.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/devices/register":
			if r.Header.Get("X-Device-Code") != "PAIR-42" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-live"}) //nolint:errcheck // Test server
		case "/api/v1/devices/heartbeat":
			w.WriteHeader(int(heartbeatStatus.Load()))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store := credential.NewSQLiteStore(db.DB)
	holder, err := credential.LoadHolder(ctx, store, "")
	if err != nil {
		t.Fatalf("LoadHolder() error = %v", err)
	}
	state := &fakeState{}
	q := NewQueue(DefaultCapacity, 0)
	q.SetAdmit(func(r Request) bool { return r.Kind == KindRegister || holder.Current().Usable() })
	d := NewDispatcher(q, Deps{
		Backend:     backend.NewClient(srv.Client()),
		Credentials: holder,
		State:       state,
	}, Config{})

	if q.Enqueue(Heartbeat()) {
		t.Fatal("heartbeat admitted before registration")
	}

	req := Register(srv.URL, "PAIR-42")
	q.Enqueue(req)
	d.DispatchOne()
	if err := <-req.Reply; err != nil {
		t.Fatalf("register Reply = %v", err)
	}

	reloaded, err := store.Load(ctx)
	if err != nil || reloaded.DeviceToken != "tok-live" || !reloaded.Registered {
		t.Fatalf("Load() = %+v, %v", reloaded, err)
	}

	if !q.Enqueue(Heartbeat()) {
		t.Fatal("heartbeat refused after registration")
	}
	d.DispatchOne()
	if !deref(state.connected) {
		t.Error("BackendConnected = false after good heartbeat")
	}

	heartbeatStatus.Store(http.StatusUnauthorized)
	q.Enqueue(Heartbeat())
	d.DispatchOne()

	reloaded, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Registered || reloaded.DeviceToken != "" || reloaded.BackendURL != srv.URL {
		t.Errorf("after 401 Load() = %+v, want unregistered with url kept", reloaded)
	}
	if q.Enqueue(Heartbeat()) {
		t.Error("heartbeat admitted after token was rejected")
	}
}

func ptr(b bool) *bool { return &b }

func deref(b *bool) bool { return b != nil && *b }

func equalPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
