package config

// Redis backs the distributed rate limiter.  When it cannot be reached at
// startup the server keeps running without rate limiting.

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "github.com/caarlos0/env/v11"
    "github.com/redis/go-redis/v9"
)

// RedisConfig addresses the Redis server.  REDIS_HOST and REDIS_PORT take
// precedence over REDIS_ADDR when both are set.
type RedisConfig struct {
    Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
    Host     string `env:"REDIS_HOST"`
    Port     string `env:"REDIS_PORT"`
    Password string `env:"REDIS_PASSWORD"`
    DB       int    `env:"REDIS_DB" envDefault:"0"`
    TLS      bool   `env:"REDIS_TLS" envDefault:"false"`
}

// LoadRedisConfig parses the REDIS_* variables.
func LoadRedisConfig() (RedisConfig, error) {
    cfg, err := env.ParseAs[RedisConfig]()
    if err != nil {
        return RedisConfig{}, fmt.Errorf("parse redis env: %w", err)
    }
    if cfg.Host != "" && cfg.Port != "" {
        cfg.Addr = cfg.Host + ":" + cfg.Port
    }
    return cfg, nil
}

// NewRedisClient builds a client for cfg and pings it.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
    opts := &redis.Options{
        Addr:     cfg.Addr,
        Password: cfg.Password,
        DB:       cfg.DB,
    }
    if cfg.TLS {
        opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(opts)

    pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := client.Ping(pingCtx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
    }
    return client, nil
}
