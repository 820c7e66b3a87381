package config

import (
	"fmt"
	"time"
)

// ObservabilityConfig holds the admin server settings and the intervals of the
// gateway's background telemetry loops. The admin server listens on its own
// port so probe and scrape traffic never shares the gateway listener.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds read, write and idle time on the admin server.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`

	// PoolMonitorInterval is how often Postgres pool gauges are refreshed.
	PoolMonitorInterval time.Duration `envconfig:"POOL_MONITOR_INTERVAL" default:"15s" validate:"min=1s"`
	// CounterMetricsInterval is how often in-memory rate-limit counter gauges are refreshed.
	CounterMetricsInterval time.Duration `envconfig:"COUNTER_METRICS_INTERVAL" default:"15s" validate:"min=1s"`

	// MinReadyRules is the number of enabled rules below which readiness fails.
	MinReadyRules int `envconfig:"MIN_READY_RULES" default:"1" validate:"min=0"`
}

// Validate checks ObservabilityConfig fields that struct tags cannot express.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}

	paths := map[string]string{}
	for name, path := range map[string]string{
		"liveness":  o.LivenessPath,
		"readiness": o.ReadinessPath,
		"metrics":   o.MetricsPath,
	} {
		if len(path) < 2 || path[0] != '/' {
			return fmt.Errorf("observability %s path must start with / and not be the root, got %q", name, path)
		}
		if other, ok := paths[path]; ok {
			return fmt.Errorf("observability %s and %s paths collide on %q", other, name, path)
		}
		paths[path] = name
	}
	return nil
}
