package config

import (
	"fmt"
	"time"
)

// AuthConfig configures bearer token verification and issuance.
type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET"`
	Issuer    string        `envconfig:"ISSUER" default:"policygate" validate:"required"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"1h" validate:"min=1m"`
}

// Validate checks AuthConfig fields for correctness.
func (c *AuthConfig) Validate(environment string) error {
	if c.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required")
	}
	if environment == EnvironmentProduction && len(c.JWTSecret) < 32 {
		return fmt.Errorf("auth JWT secret must be at least 32 characters in production")
	}
	return nil
}
