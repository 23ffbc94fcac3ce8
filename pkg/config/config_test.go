package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uniplexprotocol/gate/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"UNIPLEX_GATE_ID", "UNIPLEX_API_URL", "UNIPLEX_GATE_SECRET", "UNIPLEX_SIGNING_KEY_ID",
		"UNIPLEX_CACHE_FAIL_MODE", "UNIPLEX_AUDIT_MODE", "UNIPLEX_ANONYMOUS_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "https://api.uniplex.ai", cfg.UniplexAPIURL)
	assert.Equal(t, "fail_open", cfg.Cache.FailMode)
	assert.Equal(t, "full", cfg.Audit.Mode)
	assert.False(t, cfg.Anonymous.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cache.CatalogMaxAge)
	assert.Equal(t, time.Minute, cfg.Cache.RevocationMaxAge)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("UNIPLEX_GATE_ID", "gate-prod-1")
	t.Setenv("UNIPLEX_API_URL", "https://uniplex.internal")
	t.Setenv("UNIPLEX_CACHE_FAIL_MODE", "fail_closed")
	t.Setenv("UNIPLEX_ANONYMOUS_ENABLED", "true")
	t.Setenv("UNIPLEX_ANONYMOUS_ALLOWED_ACTIONS", "flights:search, hotels:search")
	t.Setenv("UNIPLEX_CACHE_CATALOG_MAX_AGE_MINUTES", "10")

	cfg := config.Load()

	assert.Equal(t, "gate-prod-1", cfg.GateID)
	assert.Equal(t, "https://uniplex.internal", cfg.UniplexAPIURL)
	assert.Equal(t, "fail_closed", cfg.Cache.FailMode)
	assert.True(t, cfg.Anonymous.Enabled)
	assert.Equal(t, []string{"flights:search", "hotels:search"}, cfg.Anonymous.AllowedActions)
	assert.Equal(t, 10*time.Minute, cfg.Cache.CatalogMaxAge)
}

func TestLoad_BooleanParseFailureFallsBackToDefault(t *testing.T) {
	t.Setenv("UNIPLEX_ANONYMOUS_ENABLED", "not-a-bool")
	cfg := config.Load()
	assert.False(t, cfg.Anonymous.Enabled)
}
