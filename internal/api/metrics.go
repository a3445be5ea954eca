package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/process"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Queue         dispatch.Stats  `json:"queue"`
	Device        DeviceMetrics   `json:"device"`
	Drivers       []process.Stats `json:"drivers,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains hardware bus statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics summarises the device state.
type DeviceMetrics struct {
	TagState         string `json:"tag_state"`
	Weight           int16  `json:"weight"`
	LinkUp           bool   `json:"link_up"`
	LinkFailures     uint8  `json:"link_failures"`
	BackendConnected bool   `json:"backend_connected"`
	Registered       bool   `json:"registered"`
	ScaleCalibrated  bool   `json:"scale_calibrated"`
}

// handleMetrics returns runtime, queue and driver statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     s.clock.Now().UTC().Format(time.RFC3339),
		Version:       s.deps.Version,
		UptimeSeconds: int64(s.clock.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Queue: s.deps.Queue.Stats(),
	}

	if s.deps.MQTTConnected != nil {
		metrics.MQTT.Connected = s.deps.MQTTConnected()
	}

	if st, err := s.deps.State.Snapshot(); err == nil {
		metrics.Device = DeviceMetrics{
			TagState:         st.TagState.String(),
			Weight:           st.Weight,
			LinkUp:           st.LinkUp,
			LinkFailures:     st.LinkFailureCount,
			BackendConnected: st.BackendConnected,
			Registered:       st.Registered,
			ScaleCalibrated:  st.ScaleCalibrated,
		}
	}

	for _, d := range s.deps.Drivers {
		metrics.Drivers = append(metrics.Drivers, d.Stats())
	}

	writeJSON(w, http.StatusOK, metrics)
}
