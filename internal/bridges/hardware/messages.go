package hardware

import (
	"encoding/json"
	"time"

	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/display"
)

// WeightMessage is a conditioned reading from the scale driver.
type WeightMessage struct {
	WeightG    float64 `json:"weight_g"`
	Calibrated bool    `json:"calibrated"`
}

// Scale commands.
const (
	CommandTare      = "tare"
	CommandCalibrate = "calibrate"
	CommandAutoTare  = "auto_tare"
)

// ScaleCommand is sent to the scale driver.
type ScaleCommand struct {
	Command string `json:"command"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// NFC events reported by the tag driver.
const (
	EventDetected   = "detected"
	EventRead       = "read"
	EventReadError  = "read_error"
	EventRemoved    = "removed"
	EventWriteOK    = "write_ok"
	EventWriteError = "write_error"
)

// NFCEvent is a tag driver event.
type NFCEvent struct {
	Event   string          `json:"event"`
	TagUUID string          `json:"tag_uuid,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Tag types for NFCWrite.
const (
	TagTypeSpool    = "spool"
	TagTypeLocation = "location"
)

// NFCWrite asks the tag driver to write the tag in the field.
type NFCWrite struct {
	TagType string          `json:"tag_type"`
	Payload json.RawMessage `json:"payload"`
}

// Frame kinds.
const (
	FrameWeight    = "weight"
	FrameText      = "text"
	FrameRemaining = "remaining"
	FrameError     = "error"
	FrameStatus    = "status"
)

// Frame is one screen update for the display driver.
type Frame struct {
	Kind   string          `json:"kind"`
	Grams  int             `json:"grams,omitempty"`
	Text   string          `json:"text,omitempty"`
	Title  string          `json:"title,omitempty"`
	Detail string          `json:"detail,omitempty"`
	Status *display.Status `json:"status,omitempty"`
}

// CoreState is the retained snapshot published for the drivers and
// any bus observer.
type CoreState struct {
	device.State
	Timestamp time.Time `json:"timestamp"`
}
