// Package config loads the service configuration from a yaml or json file
// with EATNOW_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vinhphannn/eatnow-dispatch/api"
	"github.com/vinhphannn/eatnow-dispatch/core/dispatch"
	"github.com/vinhphannn/eatnow-dispatch/core/presence"
	"github.com/vinhphannn/eatnow-dispatch/core/realtime"
	inframetrics "github.com/vinhphannn/eatnow-dispatch/infra/metrics"
	"github.com/vinhphannn/eatnow-dispatch/infra/mqtt"
	"github.com/vinhphannn/eatnow-dispatch/infra/notify"
	"github.com/vinhphannn/eatnow-dispatch/infra/postgres"
	"github.com/vinhphannn/eatnow-dispatch/infra/redis"
)

// Config aggregates every component's configuration.
type Config struct {
	HTTP     api.Config          `json:"http"`
	Redis    redis.Config        `json:"redis"`
	Postgres postgres.Config     `json:"postgres"`
	Presence presence.Config     `json:"presence"`
	Dispatch dispatch.Config     `json:"dispatch"`
	Realtime realtime.Config     `json:"realtime"`
	Metrics  inframetrics.Config `json:"metrics"`
	Notify   NotifyConfig        `json:"notify"`
	MQTT     MQTTConfig          `json:"mqtt"`
}

// NotifyConfig wraps the broker publisher config with an enable switch.
type NotifyConfig struct {
	Enabled bool `json:"enabled"`

	notify.Config `json:",squash"`
}

// MQTTConfig wraps the GPS ingest bridge config with an enable switch.
type MQTTConfig struct {
	Enabled bool `json:"enabled"`

	mqtt.Config `json:",squash"`
}

// Load reads the file, applies EATNOW_ environment overrides and fills
// defaults. Nested keys are addressed with double underscores, e.g.
// EATNOW_REDIS__ADDR.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := loadEnv(k); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnv(k *koanf.Koanf) error {
	return k.Load(env.Provider("EATNOW_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "eatnow_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
}

// SetDefaults fills zero values across all sections.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Redis.SetDefaults()
	c.Postgres.SetDefaults()
	c.Presence.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Realtime.SetDefaults()
	c.Metrics.SetDefaults()
	c.Notify.Config.SetDefaults()
	c.MQTT.Config.SetDefaults()
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Auth.Secret == "" {
		return fmt.Errorf("http.auth.secret is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
