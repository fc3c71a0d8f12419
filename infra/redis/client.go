// Package redis provides the shared-state backends: the courier geo index,
// the readiness queue, the pending offer store and last-known locations.
// Every structure is keyed under a common prefix so several environments can
// share one instance.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config defines the connection parameters for the redis client.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// KeyPrefix namespaces every key written by this deployment.
	KeyPrefix          string `json:"key_prefix"`
	DialTimeoutSeconds int    `json:"dial_timeout_seconds"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "eatnow:"
	}
	if c.DialTimeoutSeconds <= 0 {
		c.DialTimeoutSeconds = 5
	}
}

// NewClient connects to the instance and verifies it answers a ping.
func NewClient(cfg Config) (*goredis.Client, error) {
	cfg.SetDefaults()
	cli := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DialTimeoutSeconds)*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return cli, nil
}
