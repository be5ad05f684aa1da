// Package metrics exposes Prometheus collectors for the access control core.
//
// A Collector owns its own registry so tests and multiple instances never
// collide on the global default registerer. It is fed from three places:
//   - mqtt.Client state changes and periodic stats snapshots
//   - router.Router via the router.Observer interface
//   - the HTTP API, for operator-initiated publishes
//
// Handler serves the registry in the Prometheus text format for /metrics.
package metrics
