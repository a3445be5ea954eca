package hardware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/filaman/spoolscale/internal/infrastructure/mqtt"
	"github.com/filaman/spoolscale/internal/tag"
)

// defaultQoS is used for every hardware bus message.
const defaultQoS = 1

// commandBuffer bounds the scale commands waiting to be sent.
const commandBuffer = 8

// Bus is the MQTT connection to the local broker.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// ScaleState receives the values the scale driver owns.
type ScaleState interface {
	SetWeight(grams int16, calibrated bool) error
	SetAutoTare(enabled bool) error
}

// TagEvents receives tag driver events.
type TagEvents interface {
	TagDetected() error
	ReadCompleted(p tag.Payload) error
	ReadFailed(cause error) error
	TagRemoved() error
	WriteCompleted(p tag.Payload) error
	WriteFailed(cause error) error
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Options holds the bridge's collaborators.
type Options struct {
	Bus    Bus
	Topics mqtt.Topics
	State  ScaleState
	// Tags may be set after construction with SetTagEvents, since the
	// coordinator itself writes tags through the bridge.
	Tags  TagEvents
	Clock clock.PassiveClock
}

// Bridge connects the hardware drivers to the core.
//
// Thread Safety: All methods are safe for concurrent use once Start has
// returned.
type Bridge struct {
	bus    Bus
	topics mqtt.Topics
	state  ScaleState
	tags   atomic.Pointer[TagEvents]
	clock  clock.PassiveClock

	// lastSeen is the UnixNano of the last driver message.
	lastSeen atomic.Int64

	commands chan command
	logger   Logger
}

// command is a scale command waiting for Run. sent runs once the broker
// has taken it.
type command struct {
	name    string
	payload []byte
	sent    func() error
}

// NewBridge creates a Bridge. Call Start to subscribe to driver topics.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("scale state is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	b := &Bridge{
		bus:      opts.Bus,
		topics:   opts.Topics,
		state:    opts.State,
		clock:    opts.Clock,
		commands: make(chan command, commandBuffer),
		logger:   noopLogger{},
	}
	if opts.Tags != nil {
		b.SetTagEvents(opts.Tags)
	}
	return b, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// SetTagEvents sets the receiver of tag driver events.
func (b *Bridge) SetTagEvents(t TagEvents) {
	b.tags.Store(&t)
}

// Start subscribes to the driver topics.
func (b *Bridge) Start() error {
	if err := b.bus.Subscribe(b.topics.ScaleWeight(), defaultQoS, b.handleWeight); err != nil {
		return fmt.Errorf("subscribe to scale weight: %w", err)
	}
	if err := b.bus.Subscribe(b.topics.NFCEvent(), defaultQoS, b.handleNFC); err != nil {
		return fmt.Errorf("subscribe to nfc events: %w", err)
	}
	b.logger.Info("hardware bridge started",
		"weight_topic", b.topics.ScaleWeight(),
		"nfc_topic", b.topics.NFCEvent(),
	)
	return nil
}

// LastSeen returns when a driver last sent a message. It is the zero
// time until the first one.
func (b *Bridge) LastSeen() time.Time {
	ns := b.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (b *Bridge) markSeen() {
	b.lastSeen.Store(b.clock.Now().UnixNano())
}

func (b *Bridge) handleWeight(_ string, payload []byte) error {
	var msg WeightMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: scale weight: %w", ErrInvalidMessage, err)
	}
	b.markSeen()
	return b.state.SetWeight(clampGrams(msg.WeightG), msg.Calibrated)
}

// clampGrams rounds a reading to whole grams within the int16 range.
func clampGrams(g float64) int16 {
	switch {
	case math.IsNaN(g):
		return 0
	case g >= math.MaxInt16:
		return math.MaxInt16
	case g <= math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(g))
}

func (b *Bridge) handleNFC(_ string, payload []byte) error {
	var ev NFCEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("%w: nfc event: %w", ErrInvalidMessage, err)
	}
	b.markSeen()

	tp := b.tags.Load()
	if tp == nil {
		b.logger.Debug("nfc event before coordinator is ready", "event", ev.Event)
		return nil
	}
	tags := *tp

	p := tag.Payload{TagUUID: ev.TagUUID, Data: ev.Data}
	var err error
	switch ev.Event {
	case EventDetected:
		err = tags.TagDetected()
	case EventRead:
		err = tags.ReadCompleted(p)
	case EventReadError:
		err = tags.ReadFailed(driverError(ev.Error, "read failed"))
	case EventRemoved:
		err = tags.TagRemoved()
	case EventWriteOK:
		err = tags.WriteCompleted(p)
	case EventWriteError:
		err = tags.WriteFailed(driverError(ev.Error, "write failed"))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Event)
	}

	// Drivers repeat events on retries; an out-of-order event is not the
	// driver's fault.
	if errors.Is(err, tag.ErrInvalidTransition) {
		b.logger.Debug("ignoring nfc event", "event", ev.Event, "error", err)
		return nil
	}
	return err
}

func driverError(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return errors.New(msg)
}

// WriteTag implements tag.Writer by sending the request to the tag driver.
func (b *Bridge) WriteTag(req tag.WriteRequest) error {
	tagType := TagTypeLocation
	if req.SpoolTag {
		tagType = TagTypeSpool
	}
	return b.publishJSON(b.topics.NFCWrite(), NFCWrite{TagType: tagType, Payload: req.Payload}, false)
}

// Tare zeroes the scale. Like the other scale commands it is queued for
// Run and returns without waiting for the broker.
//
// Returns:
//   - error: mqtt.ErrNotConnected when the bus is down, ErrCommandQueueFull
//     when commands are arriving faster than they are sent
func (b *Bridge) Tare() error {
	return b.queueCommand(ScaleCommand{Command: CommandTare}, nil)
}

// Calibrate starts the scale driver's calibration routine.
func (b *Bridge) Calibrate() error {
	return b.queueCommand(ScaleCommand{Command: CommandCalibrate}, nil)
}

// SetAutoTare toggles automatic taring on the driver. The device state
// records the setting once the command has been sent.
func (b *Bridge) SetAutoTare(enabled bool) error {
	return b.queueCommand(ScaleCommand{Command: CommandAutoTare, Enabled: &enabled}, func() error {
		return b.state.SetAutoTare(enabled)
	})
}

// Run sends queued scale commands until ctx is cancelled.
//
// Parameters:
//   - ctx: Context whose cancellation stops the sender
//
// Returns:
//   - error: always nil
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-b.commands:
			b.sendCommand(cmd)
		}
	}
}

func (b *Bridge) queueCommand(c ScaleCommand, sent func() error) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling scale command: %w", err)
	}
	if !b.bus.IsConnected() {
		return mqtt.ErrNotConnected
	}
	select {
	case b.commands <- command{name: c.Command, payload: payload, sent: sent}:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

func (b *Bridge) sendCommand(cmd command) {
	if err := b.bus.Publish(b.topics.ScaleCommand(), cmd.payload, defaultQoS, false); err != nil {
		b.logger.Warn("scale command not sent", "command", cmd.name, "error", err)
		return
	}
	if cmd.sent == nil {
		return
	}
	if err := cmd.sent(); err != nil {
		b.logger.Warn("failed to record scale setting", "command", cmd.name, "error", err)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	if err := b.bus.Publish(topic, payload, defaultQoS, retained); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}
