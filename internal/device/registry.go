package device

import (
	"context"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

type command struct {
	fn    func(*State)
	reply chan State
}

type subscriber struct {
	ch      chan Change
	dropped uint64
}

// Registry owns the device State. Start it with Run; all other methods
// block until Run is serving or return ErrClosed after it has stopped.
type Registry struct {
	cmds chan command
	done chan struct{}

	// state is touched only by the Run goroutine.
	state State

	subsMu sync.Mutex
	subs   map[*subscriber]struct{}

	logger Logger
}

// NewRegistry creates a registry holding initial.
func NewRegistry(initial State) *Registry {
	return &Registry{
		cmds:   make(chan command),
		done:   make(chan struct{}),
		state:  initial.Clone(),
		subs:   make(map[*subscriber]struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry. Call before Run.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Run serves commands until ctx is cancelled, then closes every
// subscriber channel. It always returns nil.
func (r *Registry) Run(ctx context.Context) error {
	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-r.cmds:
			r.apply(cmd)
		}
	}
}

func (r *Registry) apply(cmd command) {
	before := r.state.Clone()
	if cmd.fn != nil {
		cmd.fn(&r.state)
	}
	after := r.state.Clone()
	cmd.reply <- after

	if changed := diff(&before, &after); changed != 0 {
		r.notify(Change{Fields: changed, State: after})
	}
}

func (r *Registry) notify(c Change) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	for sub := range r.subs {
		select {
		case sub.ch <- Change{Fields: c.Fields, State: c.State.Clone()}:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				r.logger.Warn("state subscriber lagging, change dropped", "dropped", sub.dropped)
			}
		}
	}
}

func (r *Registry) shutdown() {
	close(r.done)

	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for sub := range r.subs {
		close(sub.ch)
		delete(r.subs, sub)
	}
}

func (r *Registry) do(fn func(*State)) (State, error) {
	cmd := command{fn: fn, reply: make(chan State, 1)}

	select {
	case r.cmds <- cmd:
	case <-r.done:
		return State{}, ErrClosed
	}

	// Once accepted the actor always replies.
	return <-cmd.reply, nil
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() (State, error) {
	return r.do(nil)
}

// Update applies fn atomically inside the actor and returns the resulting
// state. fn must not block or call back into the Registry.
//
// Parameters:
//   - fn: Mutation applied to the live state
//
// Returns:
//   - State: the state after fn
//   - error: ErrClosed once Run has returned
func (r *Registry) Update(fn func(*State)) (State, error) {
	return r.do(fn)
}

// SetWeight records a conditioned scale reading.
func (r *Registry) SetWeight(grams int16, calibrated bool) error {
	_, err := r.do(func(s *State) {
		s.Weight = grams
		s.ScaleCalibrated = calibrated
	})
	return err
}

// SetAutoTare records the scale driver's auto-tare setting.
func (r *Registry) SetAutoTare(enabled bool) error {
	_, err := r.do(func(s *State) { s.AutoTare = enabled })
	return err
}

// SetLink records the link status and consecutive failure count.
func (r *Registry) SetLink(up bool, failures uint8) error {
	_, err := r.do(func(s *State) {
		s.LinkUp = up
		s.LinkFailureCount = failures
	})
	return err
}

// SetBackendConnected records whether the last backend call succeeded.
func (r *Registry) SetBackendConnected(connected bool) error {
	_, err := r.do(func(s *State) { s.BackendConnected = connected })
	return err
}

// SetRegistered records whether the device holds a valid backend token.
// Clearing registration also clears BackendConnected.
func (r *Registry) SetRegistered(registered bool) error {
	_, err := r.do(func(s *State) {
		s.Registered = registered
		if !registered {
			s.BackendConnected = false
		}
	})
	return err
}

// SetDisplayTakeover mirrors whether a transient display claim is active.
func (r *Registry) SetDisplayTakeover(active bool) error {
	_, err := r.do(func(s *State) { s.DisplayTakeover = active })
	return err
}

// Subscribe returns a channel receiving every Change from now on, buffered
// to buffer entries, and a cancel func. The channel is closed by cancel
// or when the registry stops.
//
// Parameters:
//   - buffer: Channel capacity; a full channel loses changes instead of
//     blocking the registry
//
// Returns:
//   - <-chan Change: every change after the call
//   - func(): cancel, safe to call more than once
func (r *Registry) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan Change, buffer)}

	r.subsMu.Lock()
	select {
	case <-r.done:
		close(sub.ch)
	default:
		r.subs[sub] = struct{}{}
	}
	r.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subsMu.Lock()
			defer r.subsMu.Unlock()
			if _, ok := r.subs[sub]; ok {
				delete(r.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}
