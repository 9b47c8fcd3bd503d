package relay

import "context"

// Transport is one bidirectional client connection.
type Transport interface {
	// ID names the peer for logging.
	ID() string
	// Receive blocks for the next inbound payload. It returns an error once
	// the peer is gone or Close was called.
	Receive(ctx context.Context) ([]byte, error)
	// Send queues an outbound event.
	Send(ctx context.Context, ev Event) error
	// Close is idempotent and unblocks Receive.
	Close() error
}
