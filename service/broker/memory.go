package broker

import (
	"context"
	"sync"

	"PPRelay/tools/errs"
)

// MemoryBroker fans out in process. Each subscription queues without bound,
// so a slow reader never blocks a publisher.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errs.ErrInvalidArgument.WithDetail("channel is empty")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errs.ErrInfrastructure.WithDetail("memory broker closed")
	}
	for s := range b.subs[channel] {
		// each subscriber gets its own copy
		s.push(Message{Channel: channel, Payload: append([]byte(nil), payload...)})
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (Subscription, error) {
	if channel == "" {
		return nil, errs.ErrInvalidArgument.WithDetail("channel is empty")
	}
	s := &memorySubscription{
		channel: channel,
		broker:  b,
		out:     make(chan Message, subscriptionBuffer),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errs.ErrInfrastructure.WithDetail("memory broker closed")
	}
	set := b.subs[channel]
	if set == nil {
		set = make(map[*memorySubscription]struct{})
		b.subs[channel] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s, nil
}

func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errs.ErrInfrastructure.WithDetail("memory broker closed")
	}
	return nil
}

// Close ends every live subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var live []*memorySubscription
	for _, set := range b.subs {
		for s := range set {
			live = append(live, s)
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, s := range live {
		s.stop()
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions on channel.
func (b *MemoryBroker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBroker) remove(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set := b.subs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.channel)
		}
	}
}

type memorySubscription struct {
	channel string
	broker  *MemoryBroker
	out     chan Message

	mu     sync.Mutex
	queue  []Message
	notify chan struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func (s *memorySubscription) Channel() string          { return s.channel }
func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) push(m Message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, m := range batch {
			select {
			case s.out <- m:
			case <-s.done:
				return
			}
		}
	}
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *memorySubscription) Unsubscribe(context.Context) error {
	s.broker.remove(s)
	s.stop()
	return nil
}
