package redis

import (
	"context"
	"time"

	"PPRelay/global"
	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// NewClient dials Redis and pings it within 3s. The caller owns Close.
func NewClient(ctx context.Context, c global.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.ErrInfrastructure.Wrap(err, "redis ping "+c.Addr)
	}
	return rdb, nil
}
