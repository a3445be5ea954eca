package hardware

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/filaman/spoolscale/internal/device"
)

const stateChangeBuffer = 16

// StateSource is the device registry as seen by the publisher.
type StateSource interface {
	Snapshot() (device.State, error)
	Subscribe(buffer int) (<-chan device.Change, func())
}

// StatePublisher keeps the retained core state topic current.
type StatePublisher struct {
	bus    Bus
	topic  string
	source StateSource
	clock  clock.PassiveClock
	logger Logger
}

// NewStatePublisher creates a publisher for the bridge's core state topic.
func NewStatePublisher(b *Bridge, source StateSource) *StatePublisher {
	return &StatePublisher{
		bus:    b.bus,
		topic:  b.topics.CoreState(),
		source: source,
		clock:  b.clock,
		logger: b.logger,
	}
}

// Run publishes the current state, then every change that is not only
// stability bookkeeping, until ctx is done or the registry stops.
func (p *StatePublisher) Run(ctx context.Context) error {
	changes, cancel := p.source.Subscribe(stateChangeBuffer)
	defer cancel()

	if s, err := p.source.Snapshot(); err == nil {
		p.publish(s)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if c.Fields == device.FieldStability {
				continue
			}
			p.publish(c.State)
		}
	}
}

func (p *StatePublisher) publish(s device.State) {
	if err := p.publishState(s); err != nil {
		p.logger.Debug("core state not published", "error", err)
	}
}

func (p *StatePublisher) publishState(s device.State) error {
	payload, err := json.Marshal(CoreState{State: s, Timestamp: p.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding core state: %w", err)
	}
	return p.bus.Publish(p.topic, payload, defaultQoS, true)
}
