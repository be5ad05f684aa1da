package mqtt

// ConnectionState is the lifecycle state of a Client.
// Only the client's connection loop changes it.
type ConnectionState int

const (
	// StateDisconnected is the initial state and the state after Disconnect.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a handshake with the broker is in progress.
	StateConnecting

	// StateConnected means a session is live and inbound messages flow.
	StateConnected

	// StateReconnecting means the loop is waiting out the backoff delay.
	StateReconnecting

	// StateFailed means the last attempt or session failed. It is terminal
	// when reconnection is disabled or exhausted.
	StateFailed
)

// String returns the lowercase state name used in logs and the status API.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
