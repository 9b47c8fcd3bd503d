package broker

import (
	"PPRelay/global"
	"PPRelay/service/natsx"
	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Open builds the broker selected by cfg.Driver. The redis driver reuses rdb.
func Open(cfg global.BrokerConfig, rdb redis.UniversalClient, log *zap.Logger) (Broker, error) {
	log = log.With(zap.String("broker", cfg.Driver))
	switch cfg.Driver {
	case global.BrokerRedis, "":
		if rdb == nil {
			return nil, errs.ErrInvalidArgument.WithDetail("redis broker needs a client")
		}
		return NewRedisBroker(rdb, log), nil
	case global.BrokerNats:
		nc, err := natsx.Connect(cfg.Nats, log)
		if err != nil {
			return nil, err
		}
		return NewNatsBroker(nc, log), nil
	case global.BrokerMemory:
		return NewMemoryBroker(), nil
	default:
		return nil, errs.ErrInvalidArgument.WithDetail("unknown broker driver " + cfg.Driver)
	}
}
