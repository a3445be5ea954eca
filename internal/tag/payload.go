package tag

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Keys read from the tag's JSON content.
const (
	keySpoolID    = "sm_id"
	keyLocationID = "location_id"
)

// Payload is what the tag driver read from, or wrote to, a tag.
type Payload struct {
	TagUUID string          `json:"tag_uuid"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SpoolID returns the inventory spool id stored on the tag, if any.
func (p Payload) SpoolID() string {
	return idField(p.Data, keySpoolID)
}

// LocationID returns the storage location id stored on the tag, if any.
func (p Payload) LocationID() string {
	return idField(p.Data, keyLocationID)
}

// IsLocation reports whether the tag marks a storage location rather
// than a spool.
func (p Payload) IsLocation() bool {
	return p.LocationID() != "" && p.SpoolID() == ""
}

// idField accepts both numeric and string ids. Zero means unset.
func idField(data json.RawMessage, key string) string {
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return ""
	}
	v := gjson.GetBytes(data, key)
	switch v.Type {
	case gjson.Number, gjson.String:
		if s := v.String(); s != "" && s != "0" {
			return s
		}
	}
	return ""
}

// WriteRequest asks for a tag to be written.
type WriteRequest struct {
	// SpoolTag is false for a location tag.
	SpoolTag   bool            `json:"spool_tag"`
	Payload    json.RawMessage `json:"payload"`
	SpoolID    string          `json:"spool_id,omitempty"`
	LocationID string          `json:"location_id,omitempty"`
	// ReportResult asks for the outcome to be sent back to the backend.
	ReportResult bool `json:"-"`
}

// WriteOutcome is the end of a write session.
type WriteOutcome struct {
	Request WriteRequest
	TagUUID string
	Err     error
}
