package relay

import (
	"encoding/json"

	"PPRelay/tools/errs"
)

// outbound event types
const (
	EventTypeConnected = "connected"
	EventTypeMessage   = "message"
	EventTypeError     = "error"
)

// Event is the outbound envelope written to a client.
type Event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Session string          `json:"session,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *EventError     `json:"error,omitempty"`
}

type EventError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func connectedEvent(s *Session) Event {
	return Event{Type: EventTypeConnected, Channel: s.channel, Session: s.id}
}

func messageEvent(channel string, payload []byte) Event {
	return Event{Type: EventTypeMessage, Channel: channel, Data: json.RawMessage(payload)}
}

func errorEvent(channel string, err error) Event {
	return Event{
		Type:    EventTypeError,
		Channel: channel,
		Error:   &EventError{Code: errs.Code(err), Message: err.Error()},
	}
}
