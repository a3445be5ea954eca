package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementWeight   = "scale_weight"
	measurementDispatch = "backend_request"
	measurementLink     = "link_state"
)

// WriteWeight records a settled weight report. Empty spool or tag
// identifiers are left out of the tag set.
//
// Parameters:
//   - spoolID: FilaMan spool id, if the tag carried one
//   - tagUUID: UUID of the tag that was read
//   - grams: Reported weight
func (c *Client) WriteWeight(spoolID, tagUUID string, grams int) {
	tags := make(map[string]string, 2)
	if spoolID != "" {
		tags["spool_id"] = spoolID
	}
	if tagUUID != "" {
		tags["tag_uuid"] = tagUUID
	}
	c.WritePoint(measurementWeight, tags, map[string]any{"grams": grams})
}

// WriteDispatch records the outcome and latency of one backend call.
func (c *Client) WriteDispatch(kind string, ok bool, elapsed time.Duration) {
	c.WritePoint(measurementDispatch,
		map[string]string{"kind": kind},
		map[string]any{
			"success":     ok,
			"duration_ms": elapsed.Milliseconds(),
		},
	)
}

// WriteLink records one link check by the watchdog.
func (c *Client) WriteLink(up bool, failures int) {
	c.WritePoint(measurementLink, nil, map[string]any{
		"up":       up,
		"failures": failures,
	})
}

// WritePoint writes a point stamped with the current time. The device_id
// default tag is added by the write API.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
