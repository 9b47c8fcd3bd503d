package broker

import (
	"context"
	"encoding/json"

	"PPRelay/tools/errs"
)

// Publisher serializes values to JSON before publishing them.
type Publisher struct {
	b Broker
}

func NewPublisher(b Broker) *Publisher { return &Publisher{b: b} }

// PublishJSON publishes v. []byte and json.RawMessage are sent as-is and must
// already hold JSON.
func (p *Publisher) PublishJSON(ctx context.Context, channel string, v any) error {
	var (
		payload []byte
		err     error
	)
	switch x := v.(type) {
	case json.RawMessage:
		payload = x
	case []byte:
		payload = x
	default:
		payload, err = json.Marshal(v)
		if err != nil {
			return errs.ErrProtocol.Wrap(err, "encode payload")
		}
	}
	if !json.Valid(payload) {
		return errs.ErrProtocol.WithDetail("payload is not valid JSON")
	}
	return p.b.Publish(ctx, channel, payload)
}
