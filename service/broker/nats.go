package broker

import (
	"context"
	"sync"

	"PPRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsBroker maps channels onto core NATS subjects.
type NatsBroker struct {
	nc  *nats.Conn
	log *zap.Logger
}

// NewNatsBroker takes ownership of nc; Close drains it.
func NewNatsBroker(nc *nats.Conn, log *zap.Logger) *NatsBroker {
	return &NatsBroker{nc: nc, log: log}
}

func (b *NatsBroker) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == "" {
		return errs.ErrInvalidArgument.WithDetail("channel is empty")
	}
	if err := b.nc.Publish(channel, payload); err != nil {
		return errs.ErrInfrastructure.Wrap(err, "nats publish "+channel)
	}
	return nil
}

func (b *NatsBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if channel == "" {
		return nil, errs.ErrInvalidArgument.WithDetail("channel is empty")
	}
	in := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := b.nc.ChanSubscribe(channel, in)
	if err != nil {
		return nil, errs.ErrInfrastructure.Wrap(err, "nats subscribe "+channel)
	}
	// round trip so the server has registered interest before we return
	if err := b.flush(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, errs.ErrInfrastructure.Wrap(err, "nats flush "+channel)
	}

	s := &natsSubscription{
		channel: channel,
		sub:     sub,
		out:     make(chan Message, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	go s.pump(in)
	return s, nil
}

func (b *NatsBroker) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return errs.ErrInfrastructure.WithDetail("nats " + b.nc.Status().String())
	}
	if err := b.flush(ctx); err != nil {
		return errs.ErrInfrastructure.Wrap(err, "nats ping")
	}
	return nil
}

// flush round-trips to the server. FlushWithContext refuses a context
// without a deadline, so one is added from the connection timeout.
func (b *NatsBroker) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		timeout := b.nc.Opts.Timeout
		if timeout <= 0 {
			timeout = nats.DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return b.nc.FlushWithContext(ctx)
}

func (b *NatsBroker) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.log.Warn("nats drain", zap.Error(err))
		return err
	}
	return nil
}

type natsSubscription struct {
	channel string
	sub     *nats.Subscription
	out     chan Message
	done    chan struct{}
	once    sync.Once
}

func (s *natsSubscription) Channel() string          { return s.channel }
func (s *natsSubscription) Messages() <-chan Message { return s.out }

// pump copies deliveries until Unsubscribe; nats never closes in.
func (s *natsSubscription) pump(in <-chan *nats.Msg) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case m := <-in:
			select {
			case s.out <- Message{Channel: m.Subject, Payload: m.Data}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *natsSubscription) Unsubscribe(_ context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if uerr := s.sub.Unsubscribe(); uerr != nil && uerr != nats.ErrConnectionClosed && uerr != nats.ErrConnectionDraining {
			err = errs.ErrInfrastructure.Wrap(uerr, "nats unsubscribe "+s.channel)
		}
	})
	return err
}
