package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus exposition
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// WebSocket event feed
	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/metrics", s.handleSystemMetrics)

		r.Route("/mqtt", func(r chi.Router) {
			r.Get("/status", s.handleMQTTStatus)
			r.Get("/buffer", s.handleListBuffered)
			r.Post("/publish", s.handlePublish)
			r.Get("/messages", s.handleListMessages)
			r.Get("/messages/{id}", s.handleGetMessage)
		})

		r.Get("/audit", s.handleListAuditLogs)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/commands/pending", s.handlePendingCommands)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/unlock", s.handleUnlock)
				r.Post("/lock", s.handleLock)
				r.Post("/status", s.handleStatusRequest)
				r.Get("/status/history", s.handleGetStatusHistory)
			})
		})

		r.Post("/notifications", s.handleBroadcastNotification)
		r.Post("/emergency/lockdown", s.handleEmergencyLockdown)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// componentHealth is one entry of the /health response.
type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports overall and per-component health.
// It answers 503 when MQTT is disconnected or a configured store fails its probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]componentHealth{}
	healthy := true

	if s.mqtt.IsConnected() {
		components["mqtt"] = componentHealth{Status: "connected"}
	} else {
		components["mqtt"] = componentHealth{Status: s.mqtt.Stats().State}
		healthy = false
	}

	probe := func(name string, hc HealthChecker) {
		if hc == nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := hc.HealthCheck(ctx); err != nil {
			components[name] = componentHealth{Status: "unhealthy", Error: err.Error()}
			healthy = false
			return
		}
		components[name] = componentHealth{Status: "ok"}
	}
	probe("database", s.database)
	probe("influxdb", s.influx)

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}
