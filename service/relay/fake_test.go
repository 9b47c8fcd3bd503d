package relay

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPRelay/global"
	"PPRelay/service/broker"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"

	"go.uber.org/zap"
)

// fakeTransport records outbound events and counts any Send that arrives
// after Close.
type fakeTransport struct {
	id     string
	in     chan []byte
	events chan Event
	closed chan struct{}
	once   sync.Once

	late      atomic.Int32
	panicSend atomic.Bool
}

func newFake(id string) *fakeTransport {
	return &fakeTransport{
		id:     id,
		in:     make(chan []byte, 16),
		events: make(chan Event, 4096),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Send(ctx context.Context, ev Event) error {
	if f.panicSend.Load() {
		panic("transport exploded")
	}
	select {
	case <-f.closed:
		f.late.Add(1)
		return errs.ErrSessionClosed.WithDetail(f.id)
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case f.events <- ev:
	default:
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// next returns the next event of type typ, skipping others.
func (f *fakeTransport) next(t *testing.T, typ string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("%s: no %s event", f.id, typ)
			return Event{}
		}
	}
}

// quiet fails if an event of type typ shows up within d.
func (f *fakeTransport) quiet(t *testing.T, typ string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev := <-f.events:
			if ev.Type == typ {
				t.Fatalf("%s: unexpected %s event %s", f.id, typ, ev.Data)
			}
		case <-deadline:
			return
		}
	}
}

// flakyBroker wraps the memory broker with injectable failures.
type flakyBroker struct {
	*broker.MemoryBroker
	failPublish     atomic.Bool
	failUnsubscribe atomic.Bool
	failSubscribe   atomic.Bool
}

func newFlaky() *flakyBroker { return &flakyBroker{MemoryBroker: broker.NewMemoryBroker()} }

func (b *flakyBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.failPublish.Load() {
		return errs.ErrInfrastructure.WithDetail("publish refused")
	}
	return b.MemoryBroker.Publish(ctx, channel, payload)
}

func (b *flakyBroker) Subscribe(ctx context.Context, channel string) (broker.Subscription, error) {
	if b.failSubscribe.Load() {
		return nil, errs.ErrInfrastructure.WithDetail("subscribe refused")
	}
	sub, err := b.MemoryBroker.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	return &flakySub{Subscription: sub, b: b}, nil
}

type flakySub struct {
	broker.Subscription
	b *flakyBroker
}

func (s *flakySub) Unsubscribe(ctx context.Context) error {
	// release locally either way, report failure like a broker hiccup would
	_ = s.Subscription.Unsubscribe(ctx)
	if s.b.failUnsubscribe.Load() {
		return errs.ErrInfrastructure.WithDetail("unsubscribe refused")
	}
	return nil
}

var (
	chatsConfig = global.NamespaceConfig{Name: "chats", Channel: "chat", AllowChannelOverride: true}
	usersConfig = global.NamespaceConfig{Name: "users", Channel: "user-has-login", SingleSession: true}
)

func newTestRouter(t *testing.T, b broker.Broker) *Router {
	t.Helper()
	r := NewRouter(b, ids.NewGenerator(1), zap.NewNop(), nil)
	for _, cfg := range []global.NamespaceConfig{chatsConfig, usersConfig} {
		if err := r.Register(NewNamespace(cfg, nil)); err != nil {
			t.Fatalf("register %s: %v", cfg.Name, err)
		}
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func accept(t *testing.T, r *Router, req ConnectRequest, id string) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFake(id)
	s, err := r.Accept(context.Background(), req, tr)
	if err != nil {
		t.Fatalf("accept %s: %v", id, err)
	}
	tr.next(t, EventTypeConnected)
	return s, tr
}
