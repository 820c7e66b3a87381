package config

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// Rate limit counter backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Audit sink names.
const (
	AuditSinkConsole = "console"
	AuditSinkStore   = "store"
)

var sqlIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// GatewayConfig configures routing, rule loading and the rule backends.
type GatewayConfig struct {
	RoutesFile string `envconfig:"ROUTES_FILE" default:"configs/routes.json" validate:"required"`
	RulesFile  string `envconfig:"RULES_FILE" default:"configs/rules.json" validate:"required"`

	RateLimitBackend string `envconfig:"RATE_LIMIT_BACKEND" default:"memory" validate:"oneof=memory redis"`
	// CounterCapacity bounds the in-memory counter store.
	CounterCapacity int `envconfig:"COUNTER_CAPACITY" default:"100000" validate:"min=1"`

	AuditSinks         []string      `envconfig:"AUDIT_SINKS" default:"console" validate:"min=1,dive,oneof=console store"`
	AuditTable         string        `envconfig:"AUDIT_TABLE" default:"audit_log"`
	AuditBufferSize    int           `envconfig:"AUDIT_BUFFER_SIZE" default:"1024" validate:"min=1"`
	AuditBatchSize     int           `envconfig:"AUDIT_BATCH_SIZE" default:"100" validate:"min=1"`
	AuditFlushInterval time.Duration `envconfig:"AUDIT_FLUSH_INTERVAL" default:"1s"`
}

// UsesStoreSink reports whether audit records are persisted to the database.
func (c *GatewayConfig) UsesStoreSink() bool {
	return slices.Contains(c.AuditSinks, AuditSinkStore)
}

// Validate checks GatewayConfig fields that struct tags cannot express.
func (c *GatewayConfig) Validate() error {
	if c.UsesStoreSink() && !sqlIdentifier.MatchString(c.AuditTable) {
		return fmt.Errorf("audit table %q is not a valid identifier", c.AuditTable)
	}
	if c.AuditBatchSize > c.AuditBufferSize {
		return fmt.Errorf("audit_batch_size (%d) cannot be greater than audit_buffer_size (%d)", c.AuditBatchSize, c.AuditBufferSize)
	}
	if c.AuditFlushInterval < 10*time.Millisecond {
		return fmt.Errorf("audit flush interval must be at least 10ms, got %s", c.AuditFlushInterval)
	}
	return nil
}
