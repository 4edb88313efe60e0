package goTenant

import (
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goTenant/billing"
	"github.com/MrEthical07/goTenant/internal/limiters"
	"github.com/MrEthical07/goTenant/internal/notify"
	"github.com/MrEthical07/goTenant/jwt"
	"github.com/MrEthical07/goTenant/password"
	"github.com/MrEthical07/goTenant/store"
)

// Builder assembles an Engine. It is single use: Build fails on a second call.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	stores   store.Backend
	gateway  billing.Gateway
	sink     NotificationSink
	social   SocialVerifier
	log      zerolog.Logger
	registry prometheus.Registerer
	now      func() time.Time
	built    bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		log:    zerolog.Nop(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for lockout, throttling, the TOTP replay
// guard and plan locks.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStores sets the persistence backend.
func (b *Builder) WithStores(st store.Backend) *Builder {
	b.stores = st
	return b
}

// WithGateway sets the billing gateway.
func (b *Builder) WithGateway(gw billing.Gateway) *Builder {
	b.gateway = gw
	return b
}

// WithNotificationSink sets where notification requests are delivered.
// Without one they are discarded.
func (b *Builder) WithNotificationSink(sink NotificationSink) *Builder {
	b.sink = sink
	return b
}

// WithSocialVerifier enables SignInWithProvider.
func (b *Builder) WithSocialVerifier(v SocialVerifier) *Builder {
	b.social = v
	return b
}

func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// WithMetricsRegisterer registers the engine collectors with reg in
// addition to the engine's own registry.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// WithClock overrides the time source. Tests use it to move through trials
// and usage periods.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("engine already built")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.stores == nil {
		return nil, errors.New("store backend required")
	}
	if b.gateway == nil {
		return nil, errors.New("billing gateway required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog, err := billing.NewCatalog(cfg.Billing.Plans)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics, b.registry)
	if err != nil {
		return nil, err
	}

	ph, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.Token.SigningMethod)),
		Secret:        []byte(cfg.Token.Secret),
		PublicKey:     []byte(cfg.Token.PublicKey),
		TTL:           cfg.Token.TTL,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		config:    cfg,
		stores:    b.stores,
		gateway:   b.gateway,
		catalog:   catalog,
		redis:     b.redis,
		jwt:       jm,
		passwords: ph,
		totp:      newTOTPManager(cfg.TwoFactor),
		social:    b.social,
		metrics:   metrics,
		log:       b.log,
		now:       now,
	}

	e.lockout = limiters.NewLockout(b.redis, cfg.RedisPrefix, limiters.LockoutConfig{
		Enabled:     cfg.Lockout.Enabled,
		Threshold:   cfg.Lockout.Threshold,
		Window:      cfg.Lockout.Window,
		Duration:    cfg.Lockout.Duration,
		MaxDuration: cfg.Lockout.MaxDuration,
	})
	if cfg.RateLimit.Enabled {
		e.requests = limiters.NewRequestLimiter(b.redis, cfg.RedisPrefix, limiters.RequestConfig{
			MaxAttempts: cfg.RateLimit.MaxAttempts,
			Window:      cfg.RateLimit.Window,
		})
	}
	e.twoFactor = limiters.NewTwoFactor(b.redis, cfg.RedisPrefix, limiters.TwoFactorConfig{
		MaxAttempts: cfg.TwoFactor.MaxAttempts,
		Cooldown:    cfg.TwoFactor.Cooldown,
	})
	e.planLock = newPlanLock(b.redis, cfg.RedisPrefix, cfg.Billing.PlanLockTTL)

	if cfg.APIKey.CacheSize > 0 {
		e.keyCache = expirable.NewLRU[string, store.APIKey](cfg.APIKey.CacheSize, nil, cfg.APIKey.CacheTTL)
	}

	e.notifier = notify.NewDispatcher(notify.Config{
		BufferSize:  cfg.Notification.BufferSize,
		DropIfFull:  cfg.Notification.DropIfFull,
		SendTimeout: cfg.Notification.SendTimeout,
	}, b.sink, b.log, metrics.notificationDropped)

	b.built = true
	return e, nil
}
