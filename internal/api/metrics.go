package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/router"
)

// SystemMetrics is the JSON snapshot served at /api/v1/system/metrics for
// consoles that do not scrape Prometheus.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	MQTT          mqtt.ConnectionStats `json:"mqtt"`
	Router        *router.Stats        `json:"router,omitempty"`
	Doors         DoorMetrics          `json:"doors"`
	Console       ConsoleMetrics       `json:"console"`
}

// RuntimeMetrics summarises the Go runtime.
type RuntimeMetrics struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapObjects    uint64 `json:"heap_objects"`
	GCCycles       uint32 `json:"gc_cycles"`
}

// DoorMetrics counts door commands still waiting for an acknowledgement.
type DoorMetrics struct {
	PendingCommands int `json:"pending_commands"`
}

// ConsoleMetrics counts connected WebSocket consoles.
type ConsoleMetrics struct {
	WebSocketClients int `json:"websocket_clients"`
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	snap := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       readRuntimeMetrics(),
		MQTT:          s.mqtt.Stats(),
		Doors:         DoorMetrics{PendingCommands: len(s.devices.PendingCommands())},
		Console:       ConsoleMetrics{WebSocketClients: s.hub.ClientCount()},
	}
	if s.router != nil {
		stats := s.router.Stats()
		snap.Router = &stats
	}

	writeJSON(w, http.StatusOK, snap)
}

func readRuntimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		GoVersion:      runtime.Version(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapObjects:    ms.HeapObjects,
		GCCycles:       ms.NumGC,
	}
}
