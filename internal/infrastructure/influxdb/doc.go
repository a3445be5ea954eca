// Package influxdb records spool scale telemetry in InfluxDB.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Points written here are best effort: a missing or slow InfluxDB never
// delays the orchestrator loop or the dispatcher.
//
// Every point carries a device_id tag set once at Connect.
//
// Measurements:
//   - scale_weight: settled weight reports, tagged by spool
//   - backend_request: outcome and latency of each dispatched backend call
//   - link_state: each link check by the watchdog
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	client.WriteWeight("42", "04A2B3C4", 812)
package influxdb
