package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TagState is the phase of the current tag session.
// The order matters: every state from TagWriting on belongs to a write.
type TagState uint8

const (
	TagIdle TagState = iota
	TagReading
	TagReadSuccess
	TagReadError
	TagWriting
	TagWriteSuccess
	TagWriteError
)

var tagStateNames = [...]string{
	TagIdle:         "idle",
	TagReading:      "reading",
	TagReadSuccess:  "read_success",
	TagReadError:    "read_error",
	TagWriting:      "writing",
	TagWriteSuccess: "write_success",
	TagWriteError:   "write_error",
}

func (s TagState) String() string {
	if int(s) < len(tagStateNames) {
		return tagStateNames[s]
	}
	return fmt.Sprintf("tag_state(%d)", s)
}

// IsWrite reports whether s belongs to a write session.
func (s TagState) IsWrite() bool {
	return s >= TagWriting
}

// MarshalText implements encoding.TextMarshaler.
func (s TagState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TagState) UnmarshalText(text []byte) error {
	for i, name := range tagStateNames {
		if name == string(text) {
			*s = TagState(i) //nolint:gosec // Bounded by tagStateNames
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTagState, text)
}

// State is the device state. Values handed out by the Registry are copies.
type State struct {
	// Weight is the conditioned scale reading in grams.
	Weight int16 `json:"weight"`
	// LastWeight is Weight as of the previous orchestrator iteration.
	LastWeight     int16 `json:"last_weight"`
	StabilityCount uint8 `json:"stability_count"`

	TagState         TagState `json:"tag_state"`
	ActiveSpoolID    string   `json:"active_spool_id,omitempty"`
	ActiveTagUUID    string   `json:"active_tag_uuid,omitempty"`
	ActiveLocationID string   `json:"active_location_id,omitempty"`
	// TagPayload is the decoded tag content shown in the UI.
	TagPayload   json.RawMessage `json:"tag_payload,omitempty"`
	TagProcessed bool            `json:"tag_processed"`

	DisplayTakeover bool `json:"display_takeover"`

	LinkUp           bool  `json:"link_up"`
	LinkFailureCount uint8 `json:"link_failure_count"`

	BackendConnected bool `json:"backend_connected"`
	Registered       bool `json:"registered"`

	ScaleCalibrated bool `json:"scale_calibrated"`
	AutoTare        bool `json:"auto_tare"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s.TagPayload != nil {
		s.TagPayload = append(json.RawMessage(nil), s.TagPayload...)
	}
	return s
}

// Field identifies a group of related State fields in a Change.
type Field uint16

const (
	FieldWeight Field = 1 << iota
	FieldStability
	FieldTag
	FieldDisplay
	FieldLink
	FieldBackend
	FieldScale
)

// Has reports whether every bit of f2 is set in f.
func (f Field) Has(f2 Field) bool {
	return f&f2 == f2
}

// Change describes one mutation: which field groups differ and the state after it.
type Change struct {
	Fields Field
	State  State
}

// diff returns the field groups that differ between a and b.
func diff(a, b *State) Field {
	var f Field
	if a.Weight != b.Weight {
		f |= FieldWeight
	}
	if a.LastWeight != b.LastWeight || a.StabilityCount != b.StabilityCount {
		f |= FieldStability
	}
	if a.TagState != b.TagState ||
		a.ActiveSpoolID != b.ActiveSpoolID ||
		a.ActiveTagUUID != b.ActiveTagUUID ||
		a.ActiveLocationID != b.ActiveLocationID ||
		a.TagProcessed != b.TagProcessed ||
		!bytes.Equal(a.TagPayload, b.TagPayload) {
		f |= FieldTag
	}
	if a.DisplayTakeover != b.DisplayTakeover {
		f |= FieldDisplay
	}
	if a.LinkUp != b.LinkUp || a.LinkFailureCount != b.LinkFailureCount {
		f |= FieldLink
	}
	if a.BackendConnected != b.BackendConnected || a.Registered != b.Registered {
		f |= FieldBackend
	}
	if a.ScaleCalibrated != b.ScaleCalibrated || a.AutoTare != b.AutoTare {
		f |= FieldScale
	}
	return f
}
