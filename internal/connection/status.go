package connection

import "time"

// State is the lifecycle state of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
	StateReconnectFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// MarshalText lets State render by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of connection bookkeeping.
type Status struct {
	State             State
	Transport         string    // "websocket", "polling", or "" when not connected
	Since             time.Time // When State was entered
	LastActivity      time.Time // Last inbound or outbound event
	ReconnectAttempts int       // Current attempt while reconnecting, else 0
	Err               error     // Cause of the last error/drop, if any
}

// StatusChange is delivered to status listeners on every transition.
type StatusChange struct {
	From   State
	To     State
	Status Status
}
