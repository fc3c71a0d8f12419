package metrics

import (
	"fmt"

	coremetrics "github.com/vinhphannn/eatnow-dispatch/core/metrics"
)

// Config selects which sinks are active.
type Config struct {
	// Sinks lists the enabled sinks: "prometheus", "influx" or "nop".
	Sinks []string `json:"sinks"`

	Influx InfluxConfig `json:"influx"`
}

// InfluxConfig holds the InfluxDB connection parameters.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// SetDefaults fills zero values with reference defaults.
func (c *Config) SetDefaults() {
	if len(c.Sinks) == 0 {
		c.Sinks = []string{"prometheus"}
	}
}

// New builds the configured sink. Multiple names yield a MultiSink.
func New(cfg Config) (coremetrics.Sink, error) {
	cfg.SetDefaults()
	var sinks []coremetrics.Sink
	for _, name := range cfg.Sinks {
		switch name {
		case "nop":
			sinks = append(sinks, coremetrics.NopSink{})
		case "prometheus":
			s, err := NewPromSink()
			if err != nil {
				return nil, fmt.Errorf("prometheus sink: %w", err)
			}
			sinks = append(sinks, s)
		case "influx":
			sinks = append(sinks, NewInfluxSinkWithFallback(
				cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket))
		default:
			return nil, fmt.Errorf("unknown metrics sink %q", name)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}
