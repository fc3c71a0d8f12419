package realtime

import "time"

// Config holds transport layer tuning. All reference values are defaults.
type Config struct {
	// ThrottleMinMeters and ThrottleMinSeconds define the distance/time
	// throttle: a sample is skipped only when it is within BOTH bounds of
	// the last accepted sample for that courier.
	ThrottleMinMeters  float64 `json:"throttle_min_meters"`
	ThrottleMinSeconds float64 `json:"throttle_min_seconds"`
	// RateLimitMax caps accepted location events per courier within a
	// sliding RateLimitWindowSeconds window. Excess events drop silently.
	RateLimitMax           int `json:"rate_limit_max"`
	RateLimitWindowSeconds int `json:"rate_limit_window_seconds"`

	// ChatCapacity bounds the per-order ring buffer; ChatReplay is how many
	// messages a late joiner receives; idle buffers are evicted after
	// ChatTTLHours.
	ChatCapacity int `json:"chat_capacity"`
	ChatReplay   int `json:"chat_replay"`
	ChatTTLHours int `json:"chat_ttl_hours"`

	// MaxChatLength rejects oversized chat payloads at the boundary.
	MaxChatLength int `json:"max_chat_length"`

	// SweepIntervalSeconds drives the cleanup pass; connections idle beyond
	// IdleTimeoutMinutes are disconnected.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	IdleTimeoutMinutes   int `json:"idle_timeout_minutes"`

	// LocationTTLSeconds bounds how long a last-known location is replayed
	// to late joiners.
	LocationTTLSeconds int `json:"location_ttl_seconds"`

	// WindowResetSeconds is the reporting window for the windowed counters
	// exposed on the stats endpoint.
	WindowResetSeconds int `json:"window_reset_seconds"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if c.ThrottleMinMeters <= 0 {
		c.ThrottleMinMeters = 75
	}
	if c.ThrottleMinSeconds <= 0 {
		c.ThrottleMinSeconds = 2
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = 20
	}
	if c.RateLimitWindowSeconds <= 0 {
		c.RateLimitWindowSeconds = 10
	}
	if c.ChatCapacity <= 0 {
		c.ChatCapacity = 50
	}
	if c.ChatReplay <= 0 {
		c.ChatReplay = 20
	}
	if c.ChatTTLHours <= 0 {
		c.ChatTTLHours = 24
	}
	if c.MaxChatLength <= 0 {
		c.MaxChatLength = 1000
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 30
	}
	if c.IdleTimeoutMinutes <= 0 {
		c.IdleTimeoutMinutes = 30
	}
	if c.LocationTTLSeconds <= 0 {
		c.LocationTTLSeconds = 300
	}
	if c.WindowResetSeconds <= 0 {
		c.WindowResetSeconds = 60
	}
}

func (c Config) throttleInterval() time.Duration {
	return time.Duration(c.ThrottleMinSeconds * float64(time.Second))
}

func (c Config) rateWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c Config) chatTTL() time.Duration {
	return time.Duration(c.ChatTTLHours) * time.Hour
}

func (c Config) idleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

// SweepInterval returns the cleanup pass period.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// WindowReset returns the windowed-counter reporting period.
func (c Config) WindowReset() time.Duration {
	return time.Duration(c.WindowResetSeconds) * time.Second
}

// LocationTTL returns the last-known location lifetime.
func (c Config) LocationTTL() time.Duration {
	return time.Duration(c.LocationTTLSeconds) * time.Second
}
