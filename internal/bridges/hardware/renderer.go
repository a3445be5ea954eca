package hardware

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/filaman/spoolscale/internal/display"
)

// Display regions. The status row and the main screen are drawn
// independently, so a status refresh never replaces a pending weight.
const (
	regionScreen = iota
	regionStatus
	regionCount
)

// Renderer publishes display frames for the display driver. Frames are
// retained so a restarted driver shows the current screen.
//
// The Show methods only post the frame to a mailbox holding the newest
// frame per region; Run publishes from its own goroutine. A frame that is
// replaced before Run gets to it is never sent.
//
// Thread Safety: All methods are safe for concurrent use.
type Renderer struct {
	bus    Bus
	topic  string
	logger Logger

	mu      sync.Mutex
	pending [regionCount]*Frame
	wake    chan struct{}
}

var _ display.Renderer = (*Renderer)(nil)

// NewRenderer creates a Renderer publishing on the bridge's display topic.
// Nothing is published until Run is started.
//
// Parameters:
//   - b: Bridge whose bus and display topic the frames go to
//
// Returns:
//   - *Renderer: renderer ready to accept frames
func NewRenderer(b *Bridge) *Renderer {
	return &Renderer{
		bus:    b.bus,
		topic:  b.topics.DisplayFrame(),
		logger: b.logger,
		wake:   make(chan struct{}, 1),
	}
}

// ShowWeight implements display.Renderer.
func (r *Renderer) ShowWeight(grams int) {
	r.post(Frame{Kind: FrameWeight, Grams: grams})
}

// ShowText implements display.Renderer.
func (r *Renderer) ShowText(text string) {
	r.post(Frame{Kind: FrameText, Text: text})
}

// ShowRemaining implements display.Renderer.
func (r *Renderer) ShowRemaining(grams int) {
	r.post(Frame{Kind: FrameRemaining, Grams: grams})
}

// ShowError implements display.Renderer.
func (r *Renderer) ShowError(title, detail string) {
	r.post(Frame{Kind: FrameError, Title: title, Detail: detail})
}

// ShowStatus implements display.Renderer.
func (r *Renderer) ShowStatus(s display.Status) {
	r.post(Frame{Kind: FrameStatus, Status: &s})
}

// Run publishes posted frames until ctx is cancelled. A slow or
// unresponsive broker delays only this goroutine.
//
// Parameters:
//   - ctx: Context whose cancellation stops the renderer
//
// Returns:
//   - error: always nil; the signature matches the other component loops
func (r *Renderer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.wake:
			r.flush()
		}
	}
}

func (r *Renderer) post(f Frame) {
	region := regionScreen
	if f.Kind == FrameStatus {
		region = regionStatus
	}

	r.mu.Lock()
	r.pending[region] = &f
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// flush publishes and clears every pending frame, main screen first.
func (r *Renderer) flush() {
	r.mu.Lock()
	frames := r.pending
	r.pending = [regionCount]*Frame{}
	r.mu.Unlock()

	for _, f := range frames {
		if f != nil {
			r.publish(*f)
		}
	}
}

// publish drops the frame when the bus is down; the next render replaces it.
func (r *Renderer) publish(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		r.logger.Warn("failed to encode display frame", "kind", f.Kind, "error", err)
		return
	}
	if err := r.bus.Publish(r.topic, payload, defaultQoS, true); err != nil {
		r.logger.Debug("display frame dropped", "kind", f.Kind, "error", err)
	}
}
