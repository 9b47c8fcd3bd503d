// Package broker is the channel publish/subscribe layer shared by all sessions.
//
// A Broker publishes payloads onto named channels and opens Subscriptions.
// Publishing is stateless and safe to share across sessions; every
// Subscription is owned by exactly one session and must be released with
// Unsubscribe when that session ends.
package broker

import (
	"context"
)

// Message is one delivery on a subscribed channel.
type Message struct {
	Channel string
	Payload []byte
}

type Broker interface {
	// Publish forwards payload to every current subscriber of channel.
	// There is no delivery acknowledgement and no retry.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the broker has confirmed the subscription.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Ping reports whether the broker is reachable.
	Ping(ctx context.Context) error
	Close() error
}

type Subscription interface {
	Channel() string
	// Messages yields deliveries in broker order until the subscription
	// ends, then is closed.
	Messages() <-chan Message
	// Unsubscribe releases the subscription. Calls after the first are no-ops.
	Unsubscribe(ctx context.Context) error
}

// subscriptionBuffer sizes the per-subscription delivery channel.
const subscriptionBuffer = 256
