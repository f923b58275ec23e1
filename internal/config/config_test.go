package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg := LoadServer()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "wayfarian", cfg.MongoDB)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
}

func TestLoadServerFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9000")
	t.Setenv("JWT_EXPIRY", "2h")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")

	cfg := LoadServer()
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
}

func TestLoadRiderDefaults(t *testing.T) {
	cfg := LoadRider()
	assert.Equal(t, "tcp://localhost:1883", cfg.BrokerURL)
	assert.Equal(t, 5*time.Second, cfg.SampleInterval)
	assert.False(t, cfg.Admin)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
	t.Setenv("JWT_EXPIRY", "soon")
	t.Setenv("RIDER_ADMIN", "yep")

	server := LoadServer()
	assert.Equal(t, 120, server.RateLimitPerMinute)
	assert.Equal(t, 24*time.Hour, server.JWTExpiry)

	rider := LoadRider()
	assert.False(t, rider.Admin)
}
