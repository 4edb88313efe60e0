package goTenant

import (
	"testing"
	"time"

	"github.com/MrEthical07/goTenant/billing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with secret",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name:      "short hs256 secret",
			mutate:    func(c *Config) { c.Token.Secret = "short" },
			wantValid: false,
		},
		{
			name:      "unknown signing method",
			mutate:    func(c *Config) { c.Token.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "ed25519 without public key",
			mutate:    func(c *Config) { c.Token.SigningMethod = "ed25519" },
			wantValid: false,
		},
		{
			name:      "zero magic ttl",
			mutate:    func(c *Config) { c.Token.MagicTTL = 0 },
			wantValid: false,
		},
		{
			name:      "eight digit totp",
			mutate:    func(c *Config) { c.TwoFactor.Digits = 8 },
			wantValid: true,
		},
		{
			name:      "seven digit totp",
			mutate:    func(c *Config) { c.TwoFactor.Digits = 7 },
			wantValid: false,
		},
		{
			name:      "totp algorithm invalid",
			mutate:    func(c *Config) { c.TwoFactor.Algorithm = "MD5" },
			wantValid: false,
		},
		{
			name:      "skew too wide",
			mutate:    func(c *Config) { c.TwoFactor.Skew = 4 },
			wantValid: false,
		},
		{
			name:      "block level out of range",
			mutate:    func(c *Config) { c.Risk.BlockLevel = 4 },
			wantValid: false,
		},
		{
			name: "notify level at block level",
			mutate: func(c *Config) {
				c.Risk.BlockLevel = 2
				c.Risk.NotifyLevel = 2
			},
			wantValid: false,
		},
		{
			name: "lockout max below duration",
			mutate: func(c *Config) {
				c.Lockout.Duration = time.Hour
				c.Lockout.MaxDuration = time.Minute
			},
			wantValid: false,
		},
		{
			name: "lockout disabled ignores thresholds",
			mutate: func(c *Config) {
				c.Lockout.Enabled = false
				c.Lockout.Threshold = 0
			},
			wantValid: true,
		},
		{
			name:      "rate limit without window",
			mutate:    func(c *Config) { c.RateLimit.Window = 0 },
			wantValid: false,
		},
		{
			name: "duplicate plan ids",
			mutate: func(c *Config) {
				c.Billing.Plans = append(c.Billing.Plans, billing.Plan{ID: "starter", Type: billing.Flat, PriceID: "price_x"})
			},
			wantValid: false,
		},
		{
			name:      "zero report concurrency",
			mutate:    func(c *Config) { c.Usage.ReportConcurrency = 0 },
			wantValid: false,
		},
		{
			name: "api key cache without ttl",
			mutate: func(c *Config) {
				c.APIKey.CacheSize = 10
				c.APIKey.CacheTTL = 0
			},
			wantValid: false,
		},
		{
			name: "api key cache disabled",
			mutate: func(c *Config) {
				c.APIKey.CacheSize = 0
				c.APIKey.CacheTTL = 0
			},
			wantValid: true,
		},
		{
			name:      "blank redis prefix",
			mutate:    func(c *Config) { c.RedisPrefix = "  " },
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestDefaultConfigNeedsOnlyASecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("defaults without a secret should not validate")
	}
	cfg.Token.Secret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with a secret: %v", err)
	}
}

func TestCloneConfigCopiesPlans(t *testing.T) {
	cfg := testConfig()
	clone := cloneConfig(cfg)
	clone.Billing.Plans[0].Name = "changed"
	if cfg.Billing.Plans[0].Name == "changed" {
		t.Fatal("clone shares the plan slice")
	}
}
