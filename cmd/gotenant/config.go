package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	goTenant "github.com/MrEthical07/goTenant"
	"github.com/MrEthical07/goTenant/social"
)

// fileConfig is everything the binary reads from gotenant.yaml, the
// environment and .env. Engine holds the library configuration.
type fileConfig struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // auto, console or json
	} `mapstructure:"log"`

	Server struct {
		Addr            string        `mapstructure:"addr"`
		TrustProxy      bool          `mapstructure:"trust_proxy"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`

	Storage struct {
		Backend string `mapstructure:"backend"` // redis or sql
		Prefix  string `mapstructure:"prefix"`
		Dialect string `mapstructure:"dialect"`
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"storage"`

	Stripe struct {
		SecretKey     string        `mapstructure:"secret_key"`
		WebhookSecret string        `mapstructure:"webhook_secret"`
		MeterEvent    string        `mapstructure:"meter_event"`
		Tolerance     time.Duration `mapstructure:"tolerance"`
	} `mapstructure:"stripe"`

	Social []social.ProviderConfig `mapstructure:"social"`

	Engine goTenant.Config `mapstructure:"engine"`
}

var configDefaults = map[string]any{
	"log.level":               "info",
	"log.format":              "auto",
	"server.addr":             ":8080",
	"server.trust_proxy":      false,
	"server.shutdown_timeout": 15 * time.Second,
	"redis.url":               "redis://localhost:6379/0",
	"storage.backend":         "redis",
	"storage.prefix":          "gt",
	"storage.dialect":         "sqlite",
	"storage.dsn":             "gotenant.db",
	"stripe.secret_key":       "",
	"stripe.webhook_secret":   "",
	"stripe.meter_event":      "usage",
}

// Secrets get short variable names in addition to the GOTENANT_<PATH> form.
var envAliases = map[string]string{
	"engine.token.secret":     "GOTENANT_TOKEN_SECRET",
	"engine.token.public_key": "GOTENANT_TOKEN_PUBLIC_KEY",
	"stripe.secret_key":       "STRIPE_SECRET_KEY",
	"stripe.webhook_secret":   "STRIPE_WEBHOOK_SECRET",
}

// loadConfig reads path, or gotenant.{yaml,toml,json} from the working
// directory and /etc/gotenant when path is empty. A missing default file
// is not an error; a missing explicit one is.
func loadConfig(path string) (*fileConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("GOTENANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, val := range configDefaults {
		v.SetDefault(key, val)
	}
	for key, env := range envAliases {
		if err := v.BindEnv(key, "GOTENANT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gotenant")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gotenant")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &fileConfig{Engine: goTenant.DefaultConfig()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *fileConfig) validate() error {
	switch c.Storage.Backend {
	case "redis", "sql":
	default:
		return fmt.Errorf("storage.backend must be redis or sql, got %q", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		return errors.New("redis.url is required")
	}
	return c.Engine.Validate()
}
