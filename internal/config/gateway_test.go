package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGatewayConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should apply gateway defaults",
			envVars: map[string]string{"POLICYGATE_AUTH_JWT_SECRET": "dev-secret"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "configs/routes.json", cfg.Gateway.RoutesFile)
				assert.Equal(t, "configs/rules.json", cfg.Gateway.RulesFile)
				assert.Equal(t, RateLimitBackendMemory, cfg.Gateway.RateLimitBackend)
				assert.Equal(t, 100000, cfg.Gateway.CounterCapacity)
				assert.Equal(t, []string{AuditSinkConsole}, cfg.Gateway.AuditSinks)
				assert.Equal(t, "audit_log", cfg.Gateway.AuditTable)
				assert.Equal(t, time.Second, cfg.Gateway.AuditFlushInterval)
				assert.False(t, cfg.Gateway.UsesStoreSink())
			},
		},
		{
			name: "Should parse a list of audit sinks",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_GATEWAY_AUDIT_SINKS": "console,store",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{AuditSinkConsole, AuditSinkStore}, cfg.Gateway.AuditSinks)
				assert.True(t, cfg.Gateway.UsesStoreSink())
			},
		},
		{
			name: "Should fail validation on unknown audit sink",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_GATEWAY_AUDIT_SINKS": "console,kafka",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on unknown rate limit backend",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_GATEWAY_RATE_LIMIT_BACKEND": "memcached",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when the audit table is not an identifier",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_GATEWAY_AUDIT_TABLE": "audit; DROP TABLE users",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when batch size exceeds buffer size",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_GATEWAY_AUDIT_BUFFER_SIZE": "10",
				"POLICYGATE_GATEWAY_AUDIT_BATCH_SIZE":  "20",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when flush interval is too short",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_GATEWAY_AUDIT_FLUSH_INTERVAL": "1ms",
			}),
			wantErr: true,
		},
	})
}
