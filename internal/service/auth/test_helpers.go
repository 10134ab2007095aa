package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/crate-api/internal/config"
)

// DefaultJWTConfig returns a standard configuration for JWT authentication
// suitable for testing.
func DefaultJWTConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:            "test-jwt-secret-that-is-32-chars-long",
		TokenLifetimeMinutes: 60,
	}
}

// NewTestJWTService creates a JWT service with an injectable time source
// for predictable expiry testing.
func NewTestJWTService(secret string, tokenLifetime time.Duration, timeFunc func() time.Time) JWTService {
	return &hmacJWTService{
		signingKey:    []byte(secret),
		tokenLifetime: tokenLifetime,
		timeFunc:      timeFunc,
		clockSkew:     0,
	}
}

// RequireTestJWTService creates a JWT service with the default test
// configuration, failing the test on error.
func RequireTestJWTService(t *testing.T) JWTService {
	t.Helper()
	service, err := NewJWTService(DefaultJWTConfig())
	require.NoError(t, err, "failed to create test JWT service")
	return service
}

// GenerateAuthHeaderForTesting returns an Authorization header value with
// a valid Bearer token for the subject, signed with the default test
// configuration.
func GenerateAuthHeaderForTesting(t *testing.T, subject string) string {
	t.Helper()
	token, err := RequireTestJWTService(t).GenerateToken(context.Background(), subject)
	require.NoError(t, err, "failed to generate test token")
	return "Bearer " + token
}
