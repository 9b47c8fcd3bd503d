package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PPRelay/service/broker"
	"PPRelay/service/metrics"
	"PPRelay/tools/errs"
	"PPRelay/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type State int32

const (
	StateConnecting State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

const (
	unsubscribeTimeout = 3 * time.Second
	disconnectTimeout  = 3 * time.Second
)

// Session binds one transport to one subscription on its channel.
//
// The state field is the terminal flag: once it reads StateTerminated no
// delivery reaches the transport and the subscription has been, or is about
// to be, released exactly once.
type Session struct {
	id      string
	userID  string
	channel string
	ns      *Namespace
	tr      Transport
	broker  broker.Broker
	log     *zap.Logger
	metrics *metrics.Relay

	mu        sync.RWMutex
	state     State
	starting  bool
	connected bool
	sub       broker.Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Session)
}

func NewSession(id, userID string, ns *Namespace, channel string, tr Transport, b broker.Broker, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	log = log.With(zap.String("session", id), zap.String("namespace", ns.Name),
		zap.String("channel", channel), zap.String("peer", tr.ID()))
	return &Session{
		id:      id,
		userID:  userID,
		channel: channel,
		ns:      ns,
		tr:      tr,
		broker:  b,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string               { return s.id }
func (s *Session) UserID() string           { return s.userID }
func (s *Session) Channel() string          { return s.channel }
func (s *Session) Namespace() *Namespace    { return s.ns }
func (s *Session) Logger() *zap.Logger      { return s.log }
func (s *Session) Done() <-chan struct{}    { return s.done }
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start subscribes the session to its channel, runs the namespace OnConnect
// hook, sends the connected event and then begins forwarding deliveries. A
// panicking hook fails Start like a hook error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateTerminated:
		s.mu.Unlock()
		return errs.ErrSessionClosed.WithDetail(s.id)
	case s.state != StateConnecting || s.starting:
		s.mu.Unlock()
		return errs.ErrAlreadySubscribed.WithDetail(s.id)
	}
	s.starting = true
	s.mu.Unlock()

	sub, err := s.broker.Subscribe(ctx, s.channel)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateTerminated {
		// closed while subscribing; Close saw no subscription to release
		s.mu.Unlock()
		s.release(sub)
		return errs.ErrSessionClosed.WithDetail(s.id)
	}
	s.sub = sub
	s.state = StateActive
	s.mu.Unlock()

	var hookErr error
	if perr := safe.Call(func() { hookErr = s.handler().OnConnect(ctx, s) }); perr != nil {
		hookErr = perr
	}
	if hookErr != nil {
		s.log.Warn("connect hook failed", zap.Error(hookErr))
		return hookErr
	}

	s.mu.Lock()
	if s.state == StateTerminated {
		// Close ran before the hook finished and skipped OnDisconnect
		s.mu.Unlock()
		s.disconnect()
		return errs.ErrSessionClosed.WithDetail(s.id)
	}
	s.connected = true
	s.mu.Unlock()

	// connected precedes every delivery; messages published meanwhile,
	// including the hook's own, wait in the subscription buffer
	s.mu.RLock()
	if s.state == StateActive {
		if err := s.tr.Send(s.ctx, connectedEvent(s)); err != nil {
			s.log.Debug("send connected", zap.Error(err))
		}
	}
	s.mu.RUnlock()

	go s.deliver(sub)
	return nil
}

// deliver forwards broker messages until the subscription ends. The read
// lock is held across Send so that Close cannot complete while a delivery
// is in flight.
func (s *Session) deliver(sub broker.Subscription) {
	for m := range sub.Messages() {
		if !json.Valid(m.Payload) {
			s.log.Debug("drop non-json delivery", zap.Int("len", len(m.Payload)))
			s.metrics.Dropped(s.ctx, s.ns.Name, "malformed")
			continue
		}
		s.mu.RLock()
		if s.state != StateActive || s.ctx.Err() != nil {
			s.mu.RUnlock()
			s.metrics.Dropped(context.Background(), s.ns.Name, "late")
			continue
		}
		var sendErr error
		perr := safe.Call(func() { sendErr = s.tr.Send(s.ctx, messageEvent(m.Channel, m.Payload)) })
		s.mu.RUnlock()

		switch {
		case perr != nil:
			s.log.Error("delivery panicked", zap.Error(perr))
		case sendErr != nil:
			s.log.Debug("delivery failed", zap.Error(sendErr))
		default:
			s.metrics.Delivered(s.ctx, s.ns.Name)
		}
	}
}

// Serve reads client messages and publishes them until the transport ends,
// then closes the session. It returns nil when the session was closed
// locally.
func (s *Session) Serve(ctx context.Context) error {
	defer s.Close("transport closed")
	for {
		data, err := s.tr.Receive(ctx)
		if err != nil {
			if s.State() == StateTerminated || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.HandleInbound(ctx, data)
	}
}

// HandleInbound publishes one client payload on the session channel.
// Malformed payloads are dropped; publish failures are reported to the
// client and the session stays up.
func (s *Session) HandleInbound(ctx context.Context, data []byte) {
	if s.State() != StateActive {
		s.metrics.Dropped(ctx, s.ns.Name, "late")
		return
	}
	if !json.Valid(data) {
		s.log.Info("drop malformed payload", zap.Int("len", len(data)))
		s.metrics.Dropped(ctx, s.ns.Name, "malformed")
		return
	}

	var (
		out []byte
		err error
	)
	if perr := safe.Call(func() { out, err = s.handler().OnMessage(ctx, s, data) }); perr != nil {
		err = perr
	}
	if err != nil {
		if errors.Is(err, errs.ErrProtocol) {
			s.log.Info("handler rejected payload", zap.Error(err))
			s.metrics.Dropped(ctx, s.ns.Name, "malformed")
			return
		}
		s.log.Warn("message hook failed", zap.Error(err))
		s.reply(errorEvent(s.channel, err))
		return
	}
	if out == nil {
		return
	}

	if err := s.broker.Publish(ctx, s.channel, out); err != nil {
		s.log.Warn("publish failed", zap.Error(err))
		s.metrics.PublishFailed(ctx, s.ns.Name)
		s.reply(errorEvent(s.channel, err))
		return
	}
	s.metrics.Published(ctx, s.ns.Name)
}

func (s *Session) reply(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateActive {
		return
	}
	if err := s.tr.Send(s.ctx, ev); err != nil {
		s.log.Debug("reply failed", zap.Error(err))
	}
}

// Close terminates the session. Only the first call has any effect; it
// releases the subscription, runs OnDisconnect and closes the transport.
// An unsubscribe failure is logged and does not stop the teardown.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		// cancel first so an in-flight Send gives up its read lock
		s.cancel()

		s.mu.Lock()
		s.state = StateTerminated
		sub := s.sub
		s.sub = nil
		connected := s.connected
		s.mu.Unlock()

		if sub != nil {
			s.release(sub)
		}
		if connected {
			s.disconnect()
		}
		if err := s.tr.Close(); err != nil {
			s.log.Debug("close transport", zap.Error(err))
		}
		close(s.done)
		s.log.Info("session closed", zap.String("reason", reason))

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func (s *Session) release(sub broker.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := sub.Unsubscribe(ctx); err != nil {
		s.log.Warn("unsubscribe failed", zap.Error(err))
	}
}

func (s *Session) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := safe.Call(func() { s.handler().OnDisconnect(ctx, s) }); err != nil {
		s.log.Error("disconnect hook panicked", zap.Error(err))
	}
}

func (s *Session) handler() ResourceHandler {
	if s.ns.Handler == nil {
		return NopHandler{}
	}
	return s.ns.Handler
}
