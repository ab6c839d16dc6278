package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/smartgarden/garden-core/internal/device"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Bus           BusMetrics      `json:"bus"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
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

// BusMetrics contains MQTT bus statistics.
type BusMetrics struct {
	Connected           bool `json:"connected"`
	SmartControlEnabled bool `json:"smart_control_enabled"`
}

// DeviceMetrics summarises the registry.
type DeviceMetrics struct {
	Total        int            `json:"total"`
	ByState      map[string]int `json:"by_state"`
	ByController map[string]int `json:"by_controller"`
	Free         int            `json:"free"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns system metrics as JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.Hub().ClientCount(),
		},
		Bus: BusMetrics{
			Connected:           s.bus != nil && s.bus.IsConnected(),
			SmartControlEnabled: s.controller.Enabled(),
		},
		Devices: deviceStats(s.registry),
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		m.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

func deviceStats(reg *device.Registry) DeviceMetrics {
	records := reg.List()
	stats := DeviceMetrics{
		Total:        len(records),
		ByState:      make(map[string]int),
		ByController: make(map[string]int),
	}
	for _, rec := range records {
		stats.ByState[string(rec.State)]++
		stats.ByController[string(rec.Controller)]++
		if !rec.Busy() {
			stats.Free++
		}
	}
	return stats
}
