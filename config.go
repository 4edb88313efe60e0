package goTenant

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goTenant/billing"
)

// Config is the full engine configuration. Build copies it; later changes
// to the caller's value have no effect.
type Config struct {
	Token        TokenConfig        `mapstructure:"token"`
	Password     PasswordConfig     `mapstructure:"password"`
	TwoFactor    TwoFactorConfig    `mapstructure:"two_factor"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Lockout      LockoutConfig      `mapstructure:"lockout"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Billing      BillingConfig      `mapstructure:"billing"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Onboarding   OnboardingConfig   `mapstructure:"onboarding"`
	Notification NotificationConfig `mapstructure:"notification"`
	APIKey       APIKeyConfig       `mapstructure:"api_key"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	// RedisPrefix namespaces every key the engine writes outside the store.
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// TokenConfig controls session and challenge tokens.
type TokenConfig struct {
	SigningMethod string `mapstructure:"signing_method"` // "hs256" (default) or "ed25519"
	// Secret is the HS256 key or the PEM Ed25519 private key.
	Secret    string        `mapstructure:"secret"`
	PublicKey string        `mapstructure:"public_key"`
	TTL       time.Duration `mapstructure:"ttl"`
	Issuer    string        `mapstructure:"issuer"`
	Leeway    time.Duration `mapstructure:"leeway"`

	ChallengeTTL  time.Duration `mapstructure:"challenge_ttl"`
	MagicTTL      time.Duration `mapstructure:"magic_ttl"`
	ResetTTL      time.Duration `mapstructure:"reset_ttl"`
	VerifyTTL     time.Duration `mapstructure:"verify_ttl"`
	UnverifiedTTL time.Duration `mapstructure:"unverified_ttl"`
}

// PasswordConfig sets the Argon2id cost for new hashes.
type PasswordConfig struct {
	Memory      uint32 `mapstructure:"memory"`
	Time        uint32 `mapstructure:"time"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
	MinLength   int    `mapstructure:"min_length"`
}

// TwoFactorConfig controls TOTP verification.
type TwoFactorConfig struct {
	Issuer      string        `mapstructure:"issuer"`
	Period      int           `mapstructure:"period"`
	Digits      int           `mapstructure:"digits"`
	Skew        int           `mapstructure:"skew"`
	Algorithm   string        `mapstructure:"algorithm"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// RiskConfig sets the sign-in risk policy.
type RiskConfig struct {
	// BlockLevel disables the user and refuses a password sign-in.
	BlockLevel int `mapstructure:"block_level"`
	// NotifyLevel is exceeded before a password sign-in notifies the user.
	// The default 0 notifies on every level from 1 up.
	NotifyLevel int `mapstructure:"notify_level"`
	// MagicNotifyLevel is the same threshold for magic link sign-ins.
	MagicNotifyLevel int `mapstructure:"magic_notify_level"`
	HistoryLimit     int `mapstructure:"history_limit"`
}

// LockoutConfig configures progressive lockout on failed passwords.
type LockoutConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Threshold   int           `mapstructure:"threshold"`
	Window      time.Duration `mapstructure:"window"`
	Duration    time.Duration `mapstructure:"duration"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// RateLimitConfig throttles sign-up, magic link and password reset requests.
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

// BillingConfig holds the plan catalog.
type BillingConfig struct {
	Plans []billing.Plan `mapstructure:"plans"`
	// SeatBilling charges paid plans per member.
	SeatBilling bool `mapstructure:"seat_billing"`
	// PlanLockTTL bounds how long one plan change may hold the account lock.
	PlanLockTTL time.Duration `mapstructure:"plan_lock_ttl"`
}

// UsageConfig controls the usage reporting job.
type UsageConfig struct {
	ReportConcurrency int    `mapstructure:"report_concurrency"`
	Schedule          string `mapstructure:"schedule"`
}

// OnboardingConfig controls the onboarding job.
type OnboardingConfig struct {
	TrialLeadDays int    `mapstructure:"trial_lead_days"`
	Schedule      string `mapstructure:"schedule"`
}

// NotificationConfig controls the async dispatcher and the links placed in
// notification content.
type NotificationConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	DropIfFull  bool          `mapstructure:"drop_if_full"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	MagicURL    string        `mapstructure:"magic_url"`
	ResetURL    string        `mapstructure:"reset_url"`
	VerifyURL   string        `mapstructure:"verify_url"`
}

// APIKeyConfig sizes the verified key cache. A zero CacheSize disables it.
type APIKeyConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// MetricsConfig toggles the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// DefaultConfig returns the production defaults. Token.Secret is empty and
// must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: "hs256",
			TTL:           7 * 24 * time.Hour,
			Issuer:        "gotenant",
			ChallengeTTL:  5 * time.Minute,
			MagicTTL:      5 * time.Minute,
			ResetTTL:      5 * time.Minute,
			VerifyTTL:     24 * time.Hour,
			UnverifiedTTL: time.Hour,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        1,
			Parallelism: 4,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:      "goTenant",
			Period:      30,
			Digits:      6,
			Skew:        1,
			Algorithm:   "SHA1",
			MaxAttempts: 5,
			Cooldown:    time.Minute,
		},
		Risk: RiskConfig{
			BlockLevel:       3,
			NotifyLevel:      0,
			MagicNotifyLevel: 0,
			HistoryLimit:     200,
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			Threshold:   10,
			Window:      15 * time.Minute,
			Duration:    time.Minute,
			MaxDuration: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxAttempts: 10,
			Window:      time.Hour,
		},
		Billing: BillingConfig{
			PlanLockTTL: 30 * time.Second,
		},
		Usage: UsageConfig{
			ReportConcurrency: 4,
			Schedule:          "0 0 * * *",
		},
		Onboarding: OnboardingConfig{
			TrialLeadDays: 3,
			Schedule:      "0 9 * * *",
		},
		Notification: NotificationConfig{
			BufferSize:  1024,
			DropIfFull:  true,
			SendTimeout: 10 * time.Second,
		},
		APIKey: APIKeyConfig{
			CacheSize: 1024,
			CacheTTL:  time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "gotenant",
		},
		RedisPrefix: "gt",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Billing.Plans = append([]billing.Plan(nil), cfg.Billing.Plans...)
	return out
}

// Validate checks cross-field constraints. Build calls it.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Token.SigningMethod) {
	case "", "hs256":
		if len(c.Token.Secret) < 32 {
			return errors.New("Token.Secret must be at least 32 bytes for hs256")
		}
	case "ed25519":
		if c.Token.Secret == "" || c.Token.PublicKey == "" {
			return errors.New("Token.Secret and Token.PublicKey are required for ed25519")
		}
	default:
		return errors.New("Token.SigningMethod must be hs256 or ed25519")
	}
	if c.Token.TTL <= 0 {
		return errors.New("Token.TTL must be > 0")
	}
	if c.Token.ChallengeTTL <= 0 || c.Token.MagicTTL <= 0 || c.Token.ResetTTL <= 0 ||
		c.Token.VerifyTTL <= 0 || c.Token.UnverifiedTTL <= 0 {
		return errors.New("Token challenge lifetimes must be > 0")
	}

	if c.Password.MinLength < 1 {
		return errors.New("Password.MinLength must be >= 1")
	}

	if c.TwoFactor.Period <= 0 {
		return errors.New("TwoFactor.Period must be > 0")
	}
	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor.Digits must be 6 or 8")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 3 {
		return errors.New("TwoFactor.Skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TwoFactor.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TwoFactor.Algorithm must be SHA1, SHA256 or SHA512")
	}

	if c.Risk.BlockLevel < 1 || c.Risk.BlockLevel > 3 {
		return errors.New("Risk.BlockLevel must be between 1 and 3")
	}
	if c.Risk.NotifyLevel < 0 || c.Risk.NotifyLevel >= c.Risk.BlockLevel {
		return errors.New("Risk.NotifyLevel must be below Risk.BlockLevel")
	}
	if c.Risk.MagicNotifyLevel < 0 {
		return errors.New("Risk.MagicNotifyLevel must be >= 0")
	}
	if c.Risk.HistoryLimit <= 0 {
		return errors.New("Risk.HistoryLimit must be > 0")
	}

	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout.Threshold must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout.Duration must be > 0")
		}
		if c.Lockout.MaxDuration < c.Lockout.Duration {
			return errors.New("Lockout.MaxDuration must be >= Lockout.Duration")
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.MaxAttempts <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("RateLimit.MaxAttempts and RateLimit.Window must be > 0")
	}

	if _, err := billing.NewCatalog(c.Billing.Plans); err != nil {
		return err
	}
	if c.Billing.PlanLockTTL <= 0 {
		return errors.New("Billing.PlanLockTTL must be > 0")
	}

	if c.Usage.ReportConcurrency <= 0 {
		return errors.New("Usage.ReportConcurrency must be > 0")
	}
	if c.Onboarding.TrialLeadDays <= 0 {
		return errors.New("Onboarding.TrialLeadDays must be > 0")
	}

	if c.Notification.BufferSize <= 0 {
		return errors.New("Notification.BufferSize must be > 0")
	}
	if c.APIKey.CacheSize < 0 {
		return errors.New("APIKey.CacheSize must be >= 0")
	}
	if c.APIKey.CacheSize > 0 && c.APIKey.CacheTTL <= 0 {
		return errors.New("APIKey.CacheTTL must be > 0 when the cache is enabled")
	}

	if strings.TrimSpace(c.RedisPrefix) == "" {
		return errors.New("RedisPrefix must not be empty")
	}
	return nil
}
