package global

import "time"

const (
	BrokerRedis  = "redis"
	BrokerNats   = "nats"
	BrokerMemory = "memory"
)

type AppConfig struct {
	NodeID     int64             `yaml:"node_id"` // snowflake node, 0~1023
	HTTP       HTTPConfig        `yaml:"http"`
	Log        LogConfig         `yaml:"log"`
	Redis      RedisConfig       `yaml:"redis"`
	Broker     BrokerConfig      `yaml:"broker"`
	Presence   PresenceConfig    `yaml:"presence"`
	Auth       AuthConfig        `yaml:"auth"`
	WS         WSConfig          `yaml:"ws"`
	Namespaces []NamespaceConfig `yaml:"namespaces"`
}

type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	GrpcAddr string `yaml:"grpc_addr"` // health service; empty disables it
}

type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// RedisConfig backs the presence store, and the broker when driver=redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BrokerConfig struct {
	Driver string     `yaml:"driver"` // redis | nats | memory
	Nats   NatsConfig `yaml:"nats"`
}

type NatsConfig struct {
	Servers       []string      `yaml:"servers"`
	Name          string        `yaml:"name"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

type PresenceConfig struct {
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"` // record expiry; heartbeats renew at TTL/3
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Alg     string `yaml:"alg"`
}

type WSConfig struct {
	ReadLimit      int64         `yaml:"read_limit"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingPeriod     time.Duration `yaml:"ping_period"`
	WriteWait      time.Duration `yaml:"write_wait"`
	SendQueue      int           `yaml:"send_queue"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // empty allows any origin
}

// NamespaceConfig maps one logical namespace to its default channel.
type NamespaceConfig struct {
	Name                 string `yaml:"name"`
	Channel              string `yaml:"channel"`
	AllowChannelOverride bool   `yaml:"allow_channel_override"`
	SingleSession        bool   `yaml:"single_session"` // one live session per user
	Presence             bool   `yaml:"presence"`       // wire the login/presence handler
}
