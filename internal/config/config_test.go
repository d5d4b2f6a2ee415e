package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MAX_ATTACHMENT_BYTES", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxAttachmentBytes)
	assert.Equal(t, "notifications", cfg.PushQueue)
	assert.Equal(t, 5*time.Minute, cfg.ChannelGrantTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("SESSION_SECURE", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://m.example.com")
	t.Setenv("MAX_ATTACHMENTS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.True(t, cfg.SessionSecure)
	assert.Equal(t, []string{"https://app.example.com", "https://m.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.MaxAttachments)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.StoreDriver = "memory"
	assert.NoError(t, cfg.Validate())

	cfg.StoreDriver = "sqlite"
	cfg.JWTSecret = ""
	cfg.RateLimitRequests = 0
	err := cfg.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "STORE_DRIVER")
		assert.Contains(t, err.Error(), "JWT_SECRET")
		assert.Contains(t, err.Error(), "rate limit")
	}
}
