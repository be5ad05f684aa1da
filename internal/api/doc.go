// Package api implements the HTTP REST API and WebSocket feed for the
// access control core.
//
// This package provides:
//   - MQTT connection status and operator publish endpoints
//   - Message log and audit trail queries
//   - Door commands (unlock, lock, status request), pending-ack listing
//     and emergency lockdown
//   - Device status history
//   - A WebSocket hub that relays device alerts and connection state
//   - Prometheus exposition on /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Publishing While Offline
//
// The MQTT client buffers outbound messages while disconnected and treats
// its buffered copy as authoritative. Endpoints that publish answer 200 when
// the message reached the broker and 202 with "queued": true when it was
// buffered for replay. Callers must not retry a queued publish.
//
// # Graceful Degradation
//
// The audit repository, status history, router stats and metrics collector
// are optional. Endpoints backed by a missing collaborator answer 503.
package api
