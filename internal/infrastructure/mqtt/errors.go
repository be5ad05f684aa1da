package mqtt

import "errors"

// Sentinel errors. Returned errors wrap these; match with errors.Is.
var (
	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection handshake fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost is reported when an established session drops.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrPublishFailed is returned when a send fails while connected.
	// The message has already been buffered for replay, so the error is
	// advisory: callers must not publish the same message again.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a live subscribe the broker did not accept.
	// The filter stays recorded and is retried on the next connection.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps a live unsubscribe that did not complete.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS values above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic covers empty topics, wildcards in publish topics and
	// malformed subscription filters.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned when a payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrTimeout means a broker acknowledgement did not arrive in time.
	ErrTimeout = errors.New("mqtt: timed out waiting for broker")

	// ErrMissingBroker is returned when host or port is not configured.
	ErrMissingBroker = errors.New("mqtt: broker host and port are required")

	// ErrCircuitOpen is recorded as the terminal error when the loop is
	// cancelled while the circuit breaker is blocking connection attempts.
	ErrCircuitOpen = errors.New("mqtt: circuit breaker open")

	// ErrRetriesExhausted is recorded when the reconnect attempt cap is hit.
	ErrRetriesExhausted = errors.New("mqtt: reconnect attempts exhausted")

	// ErrAlreadyStarted is returned by Start on a running client.
	ErrAlreadyStarted = errors.New("mqtt: client already started")

	// ErrClosed is returned by Start and Publish after Disconnect.
	ErrClosed = errors.New("mqtt: client disconnected")
)
