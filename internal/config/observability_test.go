package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservabilityConfigEnvValidation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "Should load valid observability port and timeout",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_PORT":    "9090",
				"POLICYGATE_OBSERVABILITY_TIMEOUT": "1s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "9090", cfg.Observability.Port)
				assert.Equal(t, 1*time.Second, cfg.Observability.Timeout)
			},
			wantErr: false,
		},
		{
			name: "Should fail validation on port too low",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_PORT": "0",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on port too high",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_PORT": "65536",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on timeout too short",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_TIMEOUT": "999ms",
			}),
			wantErr: true,
		},
		{
			name:    "Should default the telemetry intervals and readiness threshold",
			envVars: mergeEnvVars(nil),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 15*time.Second, cfg.Observability.PoolMonitorInterval)
				assert.Equal(t, 15*time.Second, cfg.Observability.CounterMetricsInterval)
				assert.Equal(t, 1, cfg.Observability.MinReadyRules)
			},
		},
		{
			name: "Should load custom telemetry intervals and readiness threshold",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_POOL_MONITOR_INTERVAL":    "30s",
				"POLICYGATE_OBSERVABILITY_COUNTER_METRICS_INTERVAL": "5s",
				"POLICYGATE_OBSERVABILITY_MIN_READY_RULES":          "4",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 30*time.Second, cfg.Observability.PoolMonitorInterval)
				assert.Equal(t, 5*time.Second, cfg.Observability.CounterMetricsInterval)
				assert.Equal(t, 4, cfg.Observability.MinReadyRules)
			},
		},
		{
			name: "Should fail validation on a sub-second pool monitor interval",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_POOL_MONITOR_INTERVAL": "500ms",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on a negative readiness threshold",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_MIN_READY_RULES": "-1",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when liveness and readiness paths collide",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_LIVENESS_PATH":  "/health",
				"POLICYGATE_OBSERVABILITY_READINESS_PATH": "/health",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on a relative metrics path",
			envVars: mergeEnvVars(map[string]string{
				"POLICYGATE_OBSERVABILITY_METRICS_PATH": "metrics",
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}
			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}
