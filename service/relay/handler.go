package relay

import "context"

// ResourceHandler hooks a namespace into the session lifecycle. Namespaces
// that need no hooks use NopHandler.
type ResourceHandler interface {
	// OnConnect runs once the session is subscribed. An error closes it.
	OnConnect(ctx context.Context, s *Session) error
	// OnMessage may rewrite an inbound payload before it is published.
	// Returning nil payload and nil error swallows the message.
	OnMessage(ctx context.Context, s *Session, payload []byte) ([]byte, error)
	// OnDisconnect runs once, after the subscription is released.
	OnDisconnect(ctx context.Context, s *Session)
}

// NopHandler relays payloads unchanged.
type NopHandler struct{}

func (NopHandler) OnConnect(context.Context, *Session) error { return nil }

func (NopHandler) OnMessage(_ context.Context, _ *Session, payload []byte) ([]byte, error) {
	return payload, nil
}

func (NopHandler) OnDisconnect(context.Context, *Session) {}
