package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"

	"github.com/ashishshetty777/auction-app/internal/config"
	"github.com/ashishshetty777/auction-app/internal/health"
	"github.com/ashishshetty777/auction-app/internal/notify"
	"github.com/ashishshetty777/auction-app/internal/session"
	"github.com/ashishshetty777/auction-app/internal/store"

	// Register store drivers so they are available via store.Open.
	_ "github.com/ashishshetty777/auction-app/internal/store/memstore"
	_ "github.com/ashishshetty777/auction-app/internal/store/sqlxstore"
)

// runtime holds the connections shared by every command.
type runtime struct {
	clock    clockwork.Clock
	repos    *store.Repositories
	session  session.Store
	bus      notify.Bus
	redis    *redis.Client
	checkers []health.Checker
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{clock: clockwork.NewRealClock()}

	repos, err := store.Open(ctx, cfg.Database, rt.clock)
	if err != nil {
		return nil, fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	rt.repos = repos
	if repos.Ping != nil {
		rt.checkers = append(rt.checkers, health.Checker{Name: "database", Check: repos.Ping})
	}
	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	if cfg.Session.Driver == "redis" || cfg.Notify.Driver == "redis" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		rt.checkers = append(rt.checkers, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() },
		})
	}

	switch cfg.Session.Driver {
	case "redis":
		rt.session = session.NewRedis(rt.redis, cfg.Session.Key)
	default:
		rt.session = session.NewMemory()
	}

	switch cfg.Notify.Driver {
	case "redis":
		rt.bus = notify.NewRedis(rt.redis, cfg.Notify.Channel, logger)
	case "nats":
		bus, err := notify.ConnectNATS(notify.NATSOptions{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, cfg.Notify.Channel, logger)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.bus = bus
	default:
		rt.bus = notify.NewLocal()
	}
	logger.InfoContext(ctx, "live updates ready",
		slog.String("session", cfg.Session.Driver),
		slog.String("notify", cfg.Notify.Driver),
	)
	return rt, nil
}

// Close releases every connection that was opened.
func (rt *runtime) Close() error {
	var errs []error
	if rt.bus != nil {
		errs = append(errs, rt.bus.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.repos != nil && rt.repos.Closer != nil {
		errs = append(errs, rt.repos.Closer.Close())
	}
	return errors.Join(errs...)
}
