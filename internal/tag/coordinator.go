package tag

import (
	"errors"
	"sync"

	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/stability"
)

// Logger defines the logging interface used by the Coordinator.
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

// StateStore applies atomic updates to the device state.
type StateStore interface {
	Update(fn func(*device.State)) (device.State, error)
}

// Enqueuer accepts outbound requests without blocking on the network.
type Enqueuer interface {
	Enqueue(r dispatch.Request) bool
}

// Writer hands a write request to the tag driver.
type Writer interface {
	WriteTag(req WriteRequest) error
}

// StepResult is the outcome of one orchestrator iteration.
type StepResult struct {
	// State is the device state after the step.
	State device.State
	// WeightChanged reports whether Weight differed from the previous
	// iteration's reading.
	WeightChanged bool
	// Reported is set when a weight report was enqueued.
	Reported bool
}

// Coordinator owns the tag session.
type Coordinator struct {
	state    StateStore
	queue    Enqueuer
	detector *stability.Detector
	writer   Writer

	mu      sync.Mutex
	pending *WriteRequest
	onWrite func(WriteOutcome)

	logger Logger
}

// NewCoordinator creates a Coordinator. writer may be nil when nothing
// can write tags.
func NewCoordinator(state StateStore, queue Enqueuer, detector *stability.Detector, writer Writer) *Coordinator {
	return &Coordinator{
		state:    state,
		queue:    queue,
		detector: detector,
		writer:   writer,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetWriteOutcomeHook registers fn to be called at the end of every
// write session. fn runs on the caller's goroutine and must not block.
func (c *Coordinator) SetWriteOutcomeHook(fn func(WriteOutcome)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// transition moves to next if the edge exists, then applies fn.
func (c *Coordinator) transition(next device.TagState, fn func(*device.State)) (device.State, error) {
	var terr error
	s, err := c.state.Update(func(s *device.State) {
		if terr = checkTransition(s.TagState, next); terr != nil {
			return
		}
		s.TagState = next
		if fn != nil {
			fn(s)
		}
	})
	if err != nil {
		return s, err
	}
	return s, terr
}

// TagDetected starts a read session.
func (c *Coordinator) TagDetected() error {
	_, err := c.transition(device.TagReading, nil)
	return err
}

// ReadCompleted ends a read session successfully. A spool tag becomes the
// active identity. A location tag read while a spool is active queues a
// location update and closes the session without a weight report. Without
// an active spool a location tag only records the location; the detector
// has no identity to report for, so the session stays unprocessed.
//
// Parameters:
//   - p: Tag UUID and decoded content
//
// Returns:
//   - error: ErrInvalidTransition unless a read is in progress
func (c *Coordinator) ReadCompleted(p Payload) error {
	var locate *dispatch.Request
	_, err := c.transition(device.TagReadSuccess, func(s *device.State) {
		s.TagPayload = append([]byte(nil), p.Data...)
		s.TagProcessed = false

		if p.IsLocation() {
			s.ActiveLocationID = p.LocationID()
			if stability.HasIdentity(s) {
				r := dispatch.LocationUpdate(s.ActiveSpoolID, s.ActiveTagUUID, s.ActiveLocationID, p.TagUUID)
				locate = &r
				s.TagProcessed = true
			}
			return
		}

		s.ActiveTagUUID = p.TagUUID
		s.ActiveSpoolID = p.SpoolID()
		s.ActiveLocationID = ""
	})
	if err != nil {
		return err
	}

	if locate != nil {
		c.enqueue(*locate)
	}
	return nil
}

// ReadFailed ends a read session with an error. Nothing is reported.
func (c *Coordinator) ReadFailed(cause error) error {
	_, err := c.transition(device.TagReadError, nil)
	if err == nil {
		c.logger.Warn("tag read failed", "error", cause)
	}
	return err
}

// TagRemoved returns to Idle and closes the session.
func (c *Coordinator) TagRemoved() error {
	_, err := c.transition(device.TagIdle, func(s *device.State) {
		s.TagProcessed = false
		stability.Reset(s)
	})
	return err
}

// BeginWrite starts a write session and hands req to the tag driver. It
// pre-empts any read in progress.
//
// Parameters:
//   - req: Content to write and whether it is a spool tag
//
// Returns:
//   - error: ErrTagBusy while another write is open, ErrNoWriter when no
//     tag driver is attached, or the driver's error
func (c *Coordinator) BeginWrite(req WriteRequest) error {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return ErrTagBusy
	}
	_, err := c.state.Update(func(s *device.State) {
		s.TagState = device.TagWriting
		stability.Reset(s)
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.pending = &req
	c.mu.Unlock()

	write := c.writeTag
	if c.writer != nil {
		write = c.writer.WriteTag
	}
	if err := write(req); err != nil {
		if ferr := c.WriteFailed(err); ferr != nil {
			c.logger.Warn("failed to close write session", "error", ferr)
		}
		return err
	}
	return nil
}

// Writing reports whether a write session is open.
func (c *Coordinator) Writing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// WriteCompleted ends a write session successfully. The written tag
// becomes the active identity and its weight is reported once.
func (c *Coordinator) WriteCompleted(p Payload) error {
	req := c.takePending()

	var report dispatch.Request
	_, err := c.transition(device.TagWriteSuccess, func(s *device.State) {
		s.ActiveTagUUID = p.TagUUID
		data := p.Data
		if len(data) == 0 {
			data = req.Payload
		}
		s.TagPayload = append([]byte(nil), data...)

		written := Payload{TagUUID: p.TagUUID, Data: data}
		s.ActiveSpoolID = firstNonEmpty(req.SpoolID, written.SpoolID())
		s.ActiveLocationID = firstNonEmpty(req.LocationID, written.LocationID())

		s.TagProcessed = true
		report = dispatch.WeightUpdate(s.ActiveSpoolID, s.ActiveTagUUID, float64(s.Weight))
	})
	if err != nil {
		return err
	}

	c.enqueue(report)
	c.notifyWrite(WriteOutcome{Request: req, TagUUID: p.TagUUID})
	return nil
}

// WriteFailed ends a write session with an error. Nothing is reported
// by the coordinator itself.
func (c *Coordinator) WriteFailed(cause error) error {
	req := c.takePending()

	_, err := c.transition(device.TagWriteError, nil)
	if err != nil {
		return err
	}
	if cause == nil {
		cause = errors.New("write failed")
	}
	c.logger.Warn("tag write failed", "error", cause)
	c.notifyWrite(WriteOutcome{Request: req, Err: cause})
	return nil
}

// Step runs one orchestrator iteration against the device state. When
// sampleDue is set the detector counts a stability sample. Either way a
// due weight report is enqueued and LastWeight is refreshed to Weight.
//
// Parameters:
//   - sampleDue: Whether a stability sample tick has elapsed
//
// Returns:
//   - StepResult: the state after the step and whether a report was queued
//   - error: device.ErrClosed once the registry has stopped
func (c *Coordinator) Step(sampleDue bool) (StepResult, error) {
	var (
		res    StepResult
		report *dispatch.Request
	)
	s, err := c.state.Update(func(s *device.State) {
		res.WeightChanged = s.Weight != s.LastWeight

		var due bool
		if sampleDue {
			due = c.detector.Sample(s)
		} else {
			due = c.detector.Check(s)
		}
		if due {
			r := dispatch.WeightUpdate(s.ActiveSpoolID, s.ActiveTagUUID, float64(s.Weight))
			report = &r
		}
		s.LastWeight = s.Weight
	})
	if err != nil {
		return res, err
	}
	res.State = s

	if report != nil {
		res.Reported = true
		c.enqueue(*report)
		c.logger.Info("settled weight queued",
			"spool_id", report.SpoolID,
			"tag_uuid", report.TagUUID,
			"grams", report.MeasuredWeight,
		)
	}
	return res, nil
}

func (c *Coordinator) writeTag(WriteRequest) error {
	return ErrNoWriter
}

func (c *Coordinator) takePending() WriteRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var req WriteRequest
	if c.pending != nil {
		req = *c.pending
		c.pending = nil
	}
	return req
}

func (c *Coordinator) notifyWrite(o WriteOutcome) {
	c.mu.Lock()
	fn := c.onWrite
	c.mu.Unlock()
	if fn != nil {
		fn(o)
	}
}

func (c *Coordinator) enqueue(r dispatch.Request) {
	if !c.queue.Enqueue(r) {
		c.logger.Debug("request not queued", "kind", r.Kind.String())
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
