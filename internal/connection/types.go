package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no ping)")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// Transport names reported in Status.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// Reserved outbound event names.
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when the transport read the frame
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TransportConfig configures a single transport instance.
type TransportConfig struct {
	URL              string        // ws(s):// endpoint for WebSocket, http(s):// base for polling
	Token            string        // Bearer credential sent at handshake
	HandshakeTimeout time.Duration // WebSocket upgrade timeout
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	PollInterval     time.Duration // Delay between polls (polling only)
	BufferSize       int           // Message channel buffer size
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 20 * time.Second,
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		PollInterval:     time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL            string          // WebSocket endpoint
	PollingURL       string          // Long-polling base URL
	DisablePolling   bool            // Never fall back to polling
	HandshakeTimeout time.Duration   // WebSocket upgrade timeout
	PingInterval     time.Duration   // Keepalive ping period
	PingTimeout      time.Duration   // Stale connection threshold
	WriteTimeout     time.Duration   // Write deadline for sends
	PollInterval     time.Duration   // Delay between polls
	BufferSize       int             // Per-transport inbound buffer
	Reconnect        ReconnectPolicy // Applied after a drop
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	tc := DefaultTransportConfig()
	return ManagerConfig{
		HandshakeTimeout: tc.HandshakeTimeout,
		PingInterval:     tc.PingInterval,
		PingTimeout:      tc.PingTimeout,
		WriteTimeout:     tc.WriteTimeout,
		PollInterval:     tc.PollInterval,
		BufferSize:       tc.BufferSize,
		Reconnect:        DefaultReconnectPolicy(),
	}
}

// transportConfig derives the per-transport settings for url and token.
func (c ManagerConfig) transportConfig(url, token string) TransportConfig {
	return TransportConfig{
		URL:              url,
		Token:            token,
		HandshakeTimeout: c.HandshakeTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		WriteTimeout:     c.WriteTimeout,
		PollInterval:     c.PollInterval,
		BufferSize:       c.BufferSize,
	}
}
