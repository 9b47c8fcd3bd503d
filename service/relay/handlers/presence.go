// Package handlers holds the namespace hooks that do more than relay.
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"PPRelay/service/broker"
	"PPRelay/service/relay"
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

// PresenceStore is the write side of the presence records.
type PresenceStore interface {
	Online(ctx context.Context, username, marker string) error
	Touch(ctx context.Context, username, marker string) (bool, error)
	Offline(ctx context.Context, username, marker string) (bool, error)
	TTL() time.Duration
}

const (
	TypeLogin  = "login"
	TypeLogout = "logout"
)

// PresenceEvent is published on the namespace channel when a user's
// presence changes.
type PresenceEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Session  string `json:"session,omitempty"`
	At       int64  `json:"at"`
}

// loginMessage is the shape of a client announcement on the users channel.
type loginMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// Presence marks a session's user online for as long as the session lives,
// renewing the record at a third of its TTL.
type Presence struct {
	store    PresenceStore
	pub      *broker.Publisher
	log      *zap.Logger
	interval time.Duration
}

var _ relay.ResourceHandler = (*Presence)(nil)

func NewPresence(store PresenceStore, pub *broker.Publisher, log *zap.Logger) *Presence {
	interval := store.TTL() / 3
	if interval <= 0 {
		interval = time.Second
	}
	return &Presence{store: store, pub: pub, log: log, interval: interval}
}

func (h *Presence) OnConnect(ctx context.Context, s *relay.Session) error {
	user := s.UserID()
	if user == "" {
		// anonymous sessions only watch logins
		return nil
	}
	if err := h.store.Online(ctx, user, s.ID()); err != nil {
		return err
	}
	h.announce(ctx, s, TypeLogin)
	safe.Go(s.Logger(), "presence-heartbeat", func() { h.heartbeat(s) })
	return nil
}

// OnMessage validates login announcements. Other payloads pass through.
func (h *Presence) OnMessage(_ context.Context, s *relay.Session, payload []byte) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		// arrays and scalars are relayed as-is
		return payload, nil
	}
	msg, err := decode.Map[loginMessage](raw)
	if err != nil {
		return nil, errs.ErrProtocol.Wrap(err, "decode login message")
	}
	if msg.Type != TypeLogin {
		return payload, nil
	}
	if msg.Username == "" {
		return nil, errs.ErrProtocol.WithDetail("login without username")
	}
	if user := s.UserID(); user != "" && user != msg.Username {
		return nil, errs.ErrUnauthorized.WithDetail("login for another user")
	}
	return payload, nil
}

func (h *Presence) OnDisconnect(ctx context.Context, s *relay.Session) {
	user := s.UserID()
	if user == "" {
		return
	}
	removed, err := h.store.Offline(ctx, user, s.ID())
	if err != nil {
		s.Logger().Warn("presence offline", zap.Error(err))
		return
	}
	if removed {
		h.announce(ctx, s, TypeLogout)
	}
}

func (h *Presence) heartbeat(s *relay.Session) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-s.Context().Done():
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(s.Context(), h.interval)
		owned, err := h.store.Touch(ctx, s.UserID(), s.ID())
		cancel()
		switch {
		case err != nil:
			// keep trying; the record survives until its TTL runs out
			s.Logger().Warn("presence touch", zap.Error(err))
		case !owned:
			s.Logger().Info("presence record taken over or expired, heartbeat stopped")
			return
		}
	}
}

func (h *Presence) announce(ctx context.Context, s *relay.Session, typ string) {
	ev := PresenceEvent{Type: typ, Username: s.UserID(), Session: s.ID(), At: time.Now().UnixMilli()}
	if err := h.pub.PublishJSON(ctx, s.Channel(), ev); err != nil {
		s.Logger().Warn("publish presence event", zap.String("type", typ), zap.Error(err))
	}
}
