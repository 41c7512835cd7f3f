package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"AI_PROVIDER", "RATE_LIMIT_PER_WINDOW", "RATE_LIMIT_WINDOW", "RATE_LIMIT_FAIL_OPEN", "STORE_BASE_URL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "stub", cfg.AIProvider)
	assert.Equal(t, 10, cfg.RateLimitPerWindow)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.True(t, cfg.RateLimitFailOpen)
	assert.True(t, cfg.PersistPartialOnDisconnect)
	assert.Equal(t, 10*time.Second, cfg.StoreFetchTimeout)
	assert.Equal(t, "http://django:8000", cfg.StoreBaseURL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AI_PROVIDER", " Ollama ")
	t.Setenv("RATE_LIMIT_PER_WINDOW", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	t.Setenv("STORE_FETCH_TIMEOUT", "250ms")
	t.Setenv("STORE_BASE_URL", "http://store.local/")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg := Load()
	assert.Equal(t, "ollama", cfg.AIProvider)
	assert.Equal(t, 3, cfg.RateLimitPerWindow)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.False(t, cfg.RateLimitFailOpen)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreFetchTimeout)
	assert.Equal(t, "http://store.local", cfg.StoreBaseURL)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
}

func TestValidate_RejectsBadSettings(t *testing.T) {
	cfg := Load()
	cfg.JWTAlgorithm = "RS256"
	cfg.RateLimitPerWindow = 0
	cfg.StoreServiceToken = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ALGORITHM")
	assert.Contains(t, err.Error(), "RATE_LIMIT_PER_WINDOW")
	assert.Contains(t, err.Error(), "STORE_SERVICE_TOKEN")
}
