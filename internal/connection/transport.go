package connection

import "context"

// Transport is a single duplex channel to the server.
type Transport interface {
	// Connect performs the handshake. ctx bounds the handshake only; the
	// connection stays open until Close.
	Connect(ctx context.Context) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// Send writes one raw frame.
	Send(data []byte) error

	// Messages returns a channel of inbound frames, each stamped on receipt.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel that receives the error that ended the connection.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool

	// Name identifies the transport kind.
	Name() string
}
