// Package metrics holds the relay's OpenTelemetry instruments. A nil *Relay
// is valid and records nothing.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scope = "PPRelay/relay"

type Relay struct {
	sessions      metric.Int64UpDownCounter
	delivered     metric.Int64Counter
	published     metric.Int64Counter
	publishErrors metric.Int64Counter
	dropped       metric.Int64Counter
}

// New registers the instruments on meter; nil uses the global provider.
func New(meter metric.Meter) (*Relay, error) {
	if meter == nil {
		meter = otel.Meter(scope)
	}
	var (
		m   Relay
		err error
	)
	if m.sessions, err = meter.Int64UpDownCounter("relay.sessions.active",
		metric.WithDescription("live sessions per namespace")); err != nil {
		return nil, err
	}
	if m.delivered, err = meter.Int64Counter("relay.messages.delivered",
		metric.WithDescription("broker messages pushed to clients")); err != nil {
		return nil, err
	}
	if m.published, err = meter.Int64Counter("relay.messages.published",
		metric.WithDescription("client messages published to the broker")); err != nil {
		return nil, err
	}
	if m.publishErrors, err = meter.Int64Counter("relay.publish.errors"); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("relay.messages.dropped",
		metric.WithDescription("messages discarded as malformed or late")); err != nil {
		return nil, err
	}
	return &m, nil
}

func attrs(namespace string, kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append(kv, attribute.String("namespace", namespace))...)
}

func (m *Relay) SessionOpened(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1, attrs(namespace))
}

func (m *Relay) SessionClosed(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, -1, attrs(namespace))
}

func (m *Relay) Delivered(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.delivered.Add(ctx, 1, attrs(namespace))
}

func (m *Relay) Published(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.published.Add(ctx, 1, attrs(namespace))
}

func (m *Relay) PublishFailed(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.publishErrors.Add(ctx, 1, attrs(namespace))
}

// Dropped counts a discarded message; reason is "malformed" or "late".
func (m *Relay) Dropped(ctx context.Context, namespace, reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, attrs(namespace, attribute.String("reason", reason)))
}
