package broker

import (
	"context"
	"sync"

	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker publishes through the shared client pool; each Subscribe opens
// its own pub/sub connection.
type RedisBroker struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

func NewRedisBroker(rdb redis.UniversalClient, log *zap.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errs.ErrInvalidArgument.WithDetail("channel is empty")
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return errs.ErrInfrastructure.Wrap(err, "redis publish "+channel)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if channel == "" {
		return nil, errs.ErrInvalidArgument.WithDetail("channel is empty")
	}
	ps := b.rdb.Subscribe(ctx, channel)
	// wait for the SUBSCRIBE confirmation so no publish after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errs.ErrInfrastructure.Wrap(err, "redis subscribe "+channel)
	}

	s := &redisSubscription{
		channel: channel,
		ps:      ps,
		out:     make(chan Message, subscriptionBuffer),
		done:    make(chan struct{}),
		log:     b.log,
	}
	go s.pump(ps.Channel())
	return s, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return errs.ErrInfrastructure.Wrap(err, "redis ping")
	}
	return nil
}

// Close is a no-op: the client is shared with the presence store and closed
// by its owner.
func (b *RedisBroker) Close() error { return nil }

type redisSubscription struct {
	channel string
	ps      *redis.PubSub
	out     chan Message
	done    chan struct{}
	once    sync.Once
	log     *zap.Logger
}

func (s *redisSubscription) Channel() string          { return s.channel }
func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if uerr := s.ps.Unsubscribe(ctx, s.channel); uerr != nil {
			err = errs.ErrInfrastructure.Wrap(uerr, "redis unsubscribe "+s.channel)
		}
		// Close releases the dedicated connection even when UNSUBSCRIBE failed.
		if cerr := s.ps.Close(); cerr != nil && err == nil {
			s.log.Debug("close pubsub", zap.String("channel", s.channel), zap.Error(cerr))
		}
	})
	return err
}
