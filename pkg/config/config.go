// Package config loads the gate's configuration surface (SPEC_FULL.md §6)
// from environment variables, each mapping 1:1 onto the root keys of the
// YAML configuration document (UNIPLEX_GATE_ID -> gate_id, and so on).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SafeDefault configures the optional auto-issued credential used when a
// caller presents no passport at all.
type SafeDefault struct {
	Enabled     bool
	AutoIssue   bool
	Permissions []string
	MaxLifetime time.Duration
}

// CacheConfig controls catalog/revocation cache freshness and fail mode.
type CacheConfig struct {
	CatalogMaxAge    time.Duration
	RevocationMaxAge time.Duration
	FailMode         string // "fail_open" | "fail_closed"
}

// AuditConfig controls the Tool Wrapper's audit attestation emission.
type AuditConfig struct {
	Enabled    bool
	LogInputs  bool
	LogOutputs bool
	WebhookURL string
	Mode       string // "full" | "sampled" | "session_digest"
}

// CommerceConfig controls receipt issuance.
type CommerceConfig struct {
	Enabled      bool
	IssueReceipts bool
	SigningKeyID string
}

// AnonymousConfig controls the no-credential safe-default path.
type AnonymousConfig struct {
	Enabled            bool
	AllowedActions     []string
	ReadOnly           bool
	RateLimitPerMinute int
	RateLimitPerHour   int
	UpgradeMessage     string
}

// TestModeConfig enables deterministic behavior for integration tests.
type TestModeConfig struct {
	Enabled      bool
	MockPassport bool
}

// Config holds the gate's full runtime configuration.
type Config struct {
	GateID        string
	UniplexAPIURL string
	GateSecret    string
	SigningKeyID  string

	SafeDefault SafeDefault
	TrustedIssuers []string
	TrustNetworks  []string

	Cache     CacheConfig
	Audit     AuditConfig
	Commerce  CommerceConfig
	Anonymous AnonymousConfig
	TestMode  TestModeConfig
}

// Load reads configuration from environment variables, applying the
// defaults spec.md §6 documents for each root key.
func Load() *Config {
	cfg := &Config{
		GateID:        os.Getenv("UNIPLEX_GATE_ID"),
		UniplexAPIURL: getenvDefault("UNIPLEX_API_URL", "https://api.uniplex.ai"),
		GateSecret:    os.Getenv("UNIPLEX_GATE_SECRET"),
		SigningKeyID:  os.Getenv("UNIPLEX_SIGNING_KEY_ID"),

		TrustedIssuers: splitList(os.Getenv("UNIPLEX_TRUSTED_ISSUERS")),
		TrustNetworks:  splitList(os.Getenv("UNIPLEX_TRUST_NETWORKS")),

		SafeDefault: SafeDefault{
			Enabled:     getenvBool("UNIPLEX_SAFE_DEFAULT_ENABLED", false),
			AutoIssue:   getenvBool("UNIPLEX_SAFE_DEFAULT_AUTO_ISSUE", false),
			Permissions: splitList(os.Getenv("UNIPLEX_SAFE_DEFAULT_PERMISSIONS")),
			MaxLifetime: getenvDuration("UNIPLEX_SAFE_DEFAULT_MAX_LIFETIME", time.Hour),
		},

		Cache: CacheConfig{
			CatalogMaxAge:    getenvMinutes("UNIPLEX_CACHE_CATALOG_MAX_AGE_MINUTES", 5),
			RevocationMaxAge: getenvMinutes("UNIPLEX_CACHE_REVOCATION_MAX_AGE_MINUTES", 1),
			FailMode:         getenvDefault("UNIPLEX_CACHE_FAIL_MODE", "fail_open"),
		},

		Audit: AuditConfig{
			Enabled:    getenvBool("UNIPLEX_AUDIT_ENABLED", true),
			LogInputs:  getenvBool("UNIPLEX_AUDIT_LOG_INPUTS", true),
			LogOutputs: getenvBool("UNIPLEX_AUDIT_LOG_OUTPUTS", false),
			WebhookURL: os.Getenv("UNIPLEX_AUDIT_WEBHOOK_URL"),
			Mode:       getenvDefault("UNIPLEX_AUDIT_MODE", "full"),
		},

		Commerce: CommerceConfig{
			Enabled:       getenvBool("UNIPLEX_COMMERCE_ENABLED", false),
			IssueReceipts: getenvBool("UNIPLEX_COMMERCE_ISSUE_RECEIPTS", false),
			SigningKeyID:  os.Getenv("UNIPLEX_COMMERCE_SIGNING_KEY_ID"),
		},

		Anonymous: AnonymousConfig{
			Enabled:            getenvBool("UNIPLEX_ANONYMOUS_ENABLED", false),
			AllowedActions:     splitList(os.Getenv("UNIPLEX_ANONYMOUS_ALLOWED_ACTIONS")),
			ReadOnly:           getenvBool("UNIPLEX_ANONYMOUS_READ_ONLY", true),
			RateLimitPerMinute: getenvInt("UNIPLEX_ANONYMOUS_RATE_LIMIT_PER_MINUTE", 0),
			RateLimitPerHour:   getenvInt("UNIPLEX_ANONYMOUS_RATE_LIMIT_PER_HOUR", 0),
			UpgradeMessage:     os.Getenv("UNIPLEX_ANONYMOUS_UPGRADE_MESSAGE"),
		},

		TestMode: TestModeConfig{
			Enabled:      getenvBool("UNIPLEX_TEST_MODE_ENABLED", false),
			MockPassport: getenvBool("UNIPLEX_TEST_MODE_MOCK_PASSPORT", false),
		},
	}

	return cfg
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvMinutes(key string, fallbackMinutes int) time.Duration {
	return time.Duration(getenvInt(key, fallbackMinutes)) * time.Minute
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
