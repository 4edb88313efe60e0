package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	goTenant "github.com/MrEthical07/goTenant"
	"github.com/MrEthical07/goTenant/billing/stripegw"
	"github.com/MrEthical07/goTenant/social"
	"github.com/MrEthical07/goTenant/store"
	"github.com/MrEthical07/goTenant/store/redisstore"
	"github.com/MrEthical07/goTenant/store/sqlstore"
)

// app is one wired process: Redis, the store backend and the engine.
type app struct {
	cfg    *fileConfig
	log    zerolog.Logger
	rdb    *redis.Client
	engine *goTenant.Engine

	closers []func() error
}

func openApp(ctx context.Context, cfg *fileConfig, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	rdb, err := openRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	a.closers = append(a.closers, rdb.Close)

	backend, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	gateway, err := stripegw.New(stripegw.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		MeterEvent:    cfg.Stripe.MeterEvent,
		Tolerance:     cfg.Stripe.Tolerance,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	b := goTenant.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithStores(backend).
		WithGateway(gateway).
		WithNotificationSink(goTenant.NewLogNotificationSink(log.With().Str("component", "notify").Logger())).
		WithLogger(log.With().Str("component", "engine").Logger())

	if len(cfg.Social) > 0 {
		dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		verifier, err := social.NewVerifier(dctx, cfg.Social)
		cancel()
		if err != nil {
			a.Close()
			return nil, err
		}
		b = b.WithSocialVerifier(verifier)
	}

	engine, err := b.Build()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis.url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (a *app) openStore(ctx context.Context) (store.Backend, error) {
	switch a.cfg.Storage.Backend {
	case "redis":
		return redisstore.New(a.rdb, a.cfg.Storage.Prefix), nil
	case "sql":
		s, err := sqlstore.Open(ctx, a.cfg.Storage.Dialect, a.cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// Close stops the engine and releases connections in reverse order.
func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
