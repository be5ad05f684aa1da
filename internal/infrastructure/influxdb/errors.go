package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// Callers treat it as "run without telemetry", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrUnhealthy means the server answered the ping but reported itself
	// not ready.
	ErrUnhealthy = errors.New("influxdb: server not healthy")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps asynchronous batch write errors passed to the
	// SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
