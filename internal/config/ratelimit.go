package config

import (
    "fmt"
    "time"

    "github.com/caarlos0/env/v11"
)

// RateLimitConfig drives the Redis token bucket in front of the API.  The
// defaults allow 100 requests per minute per client, refilled gradually.
type RateLimitConfig struct {
    Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
    Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"100"`
    RefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS" envDefault:"1"`
    RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"600ms"`
    TTL            time.Duration `env:"RATE_LIMIT_TTL" envDefault:"10m"`
    KeyStrategy    string        `env:"RATE_LIMIT_KEY_STRATEGY" envDefault:"ip_route"` // ip | operator | route | ip_route | operator_route
    Prefix         string        `env:"RATE_LIMIT_PREFIX" envDefault:"parkqr:rl"`
    Debug          bool          `env:"RATE_LIMIT_DEBUG" envDefault:"false"`
}

// LoadRateLimitConfig parses the RATE_LIMIT_* variables.
func LoadRateLimitConfig() (RateLimitConfig, error) {
    cfg, err := env.ParseAs[RateLimitConfig]()
    if err != nil {
        return RateLimitConfig{}, fmt.Errorf("parse rate limit env: %w", err)
    }
    cfg.clamp()
    return cfg, nil
}

// clamp raises out-of-range values to the smallest usable ones.  The
// bucket key must outlive at least five refill intervals.
func (c *RateLimitConfig) clamp() {
    if c.Capacity < 1 {
        c.Capacity = 1
    }
    if c.RefillTokens < 1 {
        c.RefillTokens = 1
    }
    if c.RefillInterval <= 0 {
        c.RefillInterval = time.Second
    }
    if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
        c.TTL = minTTL
    }
}
