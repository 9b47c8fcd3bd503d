package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"PPRelay/tools/errs"
	"PPRelay/tools/ids"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func TestChatRelayBetweenClients(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)
	ctx := context.Background()

	a, trA := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	_, trB := accept(t, r, ConnectRequest{Namespace: "chats"}, "B")
	go a.Serve(ctx)

	trA.in <- []byte(`{"title":"it works"}`)

	ev := trB.next(t, EventTypeMessage)
	if ev.Channel != "chat" {
		t.Fatalf("channel = %q, want chat", ev.Channel)
	}
	var got map[string]any
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got["title"] != "it works" || len(got) != 1 {
		t.Fatalf("B received %v", got)
	}
}

func TestFIFOPerSubscriber(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)
	ctx := context.Background()

	_, tr1 := accept(t, r, ConnectRequest{Namespace: "chats"}, "S1")
	_, tr2 := accept(t, r, ConnectRequest{Namespace: "chats"}, "S2")

	const n = 100
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]int{"seq": i})
		if err := b.Publish(ctx, "chat", payload); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for _, tr := range []*fakeTransport{tr1, tr2} {
		for i := 0; i < n; i++ {
			var m map[string]int
			if err := json.Unmarshal(tr.next(t, EventTypeMessage).Data, &m); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if m["seq"] != i {
				t.Fatalf("%s got seq %d, want %d", tr.id, m["seq"], i)
			}
		}
	}
}

func TestNoDeliveryAfterClose(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)
	ctx := context.Background()

	s, tr := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	s.Close("client left")

	if err := b.Publish(ctx, "chat", []byte(`{"title":"too late"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	tr.quiet(t, EventTypeMessage, 100*time.Millisecond)
	if n := tr.late.Load(); n != 0 {
		t.Fatalf("%d sends after close", n)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state = %v", s.State())
	}
}

func TestNoDeliveryAfterCloseUnderLoad(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		s, tr := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = b.Publish(ctx, "chat", []byte(`{"n":1}`))
				}
			}
		}()
		time.Sleep(2 * time.Millisecond)
		s.Close("client left")
		time.Sleep(2 * time.Millisecond)
		close(stop)
		wg.Wait()

		if n := tr.late.Load(); n != 0 {
			t.Fatalf("round %d: %d sends after close", round, n)
		}
	}
}

func TestConnectDisconnectThenPublish(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)

	s, _ := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	s.Close("client left")

	if err := b.Publish(context.Background(), "chat", []byte(`{"title":"nobody home"}`)); err != nil {
		t.Fatalf("publish after disconnect: %v", err)
	}
	if n := b.SubscriberCount("chat"); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)

	a, trA := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	_, trB := accept(t, r, ConnectRequest{Namespace: "chats"}, "B")
	go a.Serve(context.Background())

	trA.in <- []byte(`{"title":`)
	trA.in <- []byte(`not json at all`)
	trA.in <- []byte(`{"title":"after garbage"}`)

	ev := trB.next(t, EventTypeMessage)
	if string(ev.Data) != `{"title":"after garbage"}` {
		t.Fatalf("B received %s", ev.Data)
	}
	if a.State() != StateActive {
		t.Fatalf("sender state = %v, want active", a.State())
	}
}

func TestUnsubscribeFailureStillTerminates(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)

	s, tr := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	b.failUnsubscribe.Store(true)
	s.Close("client left")

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session not done")
	}
	if s.State() != StateTerminated {
		t.Fatalf("state = %v", s.State())
	}
	if !tr.isClosed() {
		t.Fatal("transport left open")
	}
	if got := len(r.Sessions("chats")); got != 0 {
		t.Fatalf("router still holds %d sessions", got)
	}
}

func TestPublishFailureReportedToClient(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)

	s, tr := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	b.failPublish.Store(true)

	s.HandleInbound(context.Background(), []byte(`{"title":"x"}`))

	ev := tr.next(t, EventTypeError)
	if ev.Error == nil || ev.Error.Code != errs.CodeInfrastructure {
		t.Fatalf("error event = %+v", ev.Error)
	}
	if s.State() != StateActive {
		t.Fatalf("state = %v, want active", s.State())
	}
}

func TestStartIsOnce(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)

	s, _ := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	if err := s.Start(context.Background()); !errors.Is(err, errs.ErrAlreadySubscribed) {
		t.Fatalf("second Start = %v", err)
	}
	if n := b.SubscriberCount("chat"); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	s.Close("done")
	if err := s.Start(context.Background()); !errors.Is(err, errs.ErrSessionClosed) {
		t.Fatalf("Start after Close = %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := newFlaky()
	ns := NewNamespace(chatsConfig, nil)
	calls := 0
	s := NewSession("1", "", ns, "chat", newFake("A"), b, zap.NewNop())
	s.onClose = func(*Session) { calls++ }
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Close("one")
	s.Close("two")
	if calls != 1 {
		t.Fatalf("onClose ran %d times", calls)
	}
}

func TestDeliveryPanicIsRecovered(t *testing.T) {
	b := newFlaky()
	r := newTestRouter(t, b)

	s, tr := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	tr.panicSend.Store(true)
	if err := b.Publish(context.Background(), "chat", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	tr.panicSend.Store(false)

	if err := b.Publish(context.Background(), "chat", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for {
		// the first payload may or may not have hit the panic
		if ev := tr.next(t, EventTypeMessage); string(ev.Data) == `{"ok":true}` {
			break
		}
	}
	if s.State() != StateActive {
		t.Fatalf("state = %v", s.State())
	}
}

type hookRecorder struct {
	NopHandler
	mu     sync.Mutex
	events []string
}

func (h *hookRecorder) record(e string) {
	h.mu.Lock()
	h.events = append(h.events, e)
	h.mu.Unlock()
}

func (h *hookRecorder) OnConnect(context.Context, *Session) error {
	h.record("connect")
	return nil
}

func (h *hookRecorder) OnMessage(_ context.Context, _ *Session, p []byte) ([]byte, error) {
	h.record("message")
	if string(p) == `{"drop":true}` {
		return nil, nil
	}
	return p, nil
}

func (h *hookRecorder) OnDisconnect(context.Context, *Session) { h.record("disconnect") }

func TestHandlerHooksRunInOrder(t *testing.T) {
	b := newFlaky()
	r := NewRouter(b, ids.NewGenerator(1), zap.NewNop(), nil)
	h := &hookRecorder{}
	if err := r.Register(NewNamespace(chatsConfig, h)); err != nil {
		t.Fatalf("register: %v", err)
	}

	s, tr := accept(t, r, ConnectRequest{Namespace: "chats"}, "A")
	s.HandleInbound(context.Background(), []byte(`{"drop":true}`))
	tr.quiet(t, EventTypeMessage, 50*time.Millisecond)
	s.Close("bye")

	want := []string{"connect", "message", "disconnect"}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != len(want) {
		t.Fatalf("hooks = %v, want %v", h.events, want)
	}
	for i := range want {
		if h.events[i] != want[i] {
			t.Fatalf("hooks = %v, want %v", h.events, want)
		}
	}
}
