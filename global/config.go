package global

import (
	"os"
	"strings"
	"time"

	"PPRelay/tools"
	"PPRelay/tools/errs"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default is the configuration used when no file is given.
func Default() AppConfig {
	return AppConfig{
		NodeID: 1,
		HTTP:   HTTPConfig{Addr: ":8080", GrpcAddr: ":50052"},
		Log:    LogConfig{Level: "info", Color: true},
		Redis:  RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 20},
		Broker: BrokerConfig{
			Driver: BrokerRedis,
			Nats: NatsConfig{
				Servers: []string{"nats://127.0.0.1:4222"},
				Name:    "pprelay",
			},
		},
		Presence: PresenceConfig{KeyPrefix: "presence:", TTL: 45 * time.Second},
		Auth:     AuthConfig{Alg: "HS256"},
		Namespaces: []NamespaceConfig{
			{Name: "chats", Channel: "chat", AllowChannelOverride: true},
			{Name: "users", Channel: "user-has-login", SingleSession: true, Presence: true},
		},
	}
}

// Load reads path (optional), applies env overrides, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	cfg.norm()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.Redis.Addr = tools.GetEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = tools.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = tools.GetEnvInt("REDIS_DB", c.Redis.DB)
	c.Broker.Driver = tools.GetEnv("BROKER_DRIVER", c.Broker.Driver)
	c.Broker.Nats.Servers = tools.GetEnvList("NATS_SERVERS", c.Broker.Nats.Servers)
	c.HTTP.Addr = tools.GetEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.GrpcAddr = tools.GetEnv("GRPC_ADDR", c.HTTP.GrpcAddr)
	c.Auth.Secret = tools.GetEnv("JWT_SECRET", c.Auth.Secret)
	c.Auth.Enabled = tools.GetEnvBool("AUTH_ENABLED", c.Auth.Enabled)
	c.Presence.TTL = tools.GetEnvDuration("PRESENCE_TTL", c.Presence.TTL)
	c.Log.Level = tools.GetEnv("LOG_LEVEL", c.Log.Level)
}

func (c *AppConfig) norm() {
	c.Broker.Driver = strings.ToLower(strings.TrimSpace(c.Broker.Driver))
	if c.Broker.Driver == "" {
		c.Broker.Driver = BrokerRedis
	}
	if c.Broker.Nats.ReconnectWait <= 0 {
		c.Broker.Nats.ReconnectWait = 500 * time.Millisecond
	}
	if c.Broker.Nats.Timeout <= 0 {
		c.Broker.Nats.Timeout = 3 * time.Second
	}
	if c.Presence.KeyPrefix == "" {
		c.Presence.KeyPrefix = "presence:"
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 45 * time.Second
	}
	if c.WS.ReadLimit <= 0 {
		c.WS.ReadLimit = 1 << 20
	}
	if c.WS.PongWait <= 0 {
		c.WS.PongWait = 60 * time.Second
	}
	if c.WS.PingPeriod <= 0 || c.WS.PingPeriod >= c.WS.PongWait {
		c.WS.PingPeriod = c.WS.PongWait * 9 / 10
	}
	if c.WS.WriteWait <= 0 {
		c.WS.WriteWait = 10 * time.Second
	}
	if c.WS.SendQueue <= 0 {
		c.WS.SendQueue = 256
	}
}

func (c *AppConfig) Validate() error {
	switch c.Broker.Driver {
	case BrokerRedis, BrokerNats, BrokerMemory:
	default:
		return errs.ErrInvalidArgument.WithDetail("unknown broker driver " + c.Broker.Driver)
	}
	if c.Redis.Addr == "" {
		return errs.ErrInvalidArgument.WithDetail("redis.addr is required")
	}
	if c.Broker.Driver == BrokerNats && len(c.Broker.Nats.Servers) == 0 {
		return errs.ErrInvalidArgument.WithDetail("broker.nats.servers is required")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return errs.ErrInvalidArgument.WithDetail("auth.secret is required when auth is enabled")
	}
	if len(c.Namespaces) == 0 {
		return errs.ErrInvalidArgument.WithDetail("at least one namespace is required")
	}
	seen := make(map[string]struct{}, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		if ns.Name == "" || ns.Channel == "" {
			return errs.ErrInvalidArgument.WithDetail("namespace name and channel are required")
		}
		if _, dup := seen[ns.Name]; dup {
			return errs.ErrInvalidArgument.WithDetail("duplicate namespace " + ns.Name)
		}
		seen[ns.Name] = struct{}{}
	}
	return nil
}
