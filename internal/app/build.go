package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"

	"postcast/internal/account"
	"postcast/internal/config"
	"postcast/internal/destination"
	"postcast/internal/destinations/discord"
	"postcast/internal/destinations/pixelfed"
	"postcast/internal/destinations/telegram"
	"postcast/internal/gateway"
	"postcast/internal/logstore"
	"postcast/internal/metrics"
	"postcast/internal/refresher"
	"postcast/internal/storage"
	"postcast/internal/transfer"
	"postcast/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapRefresh(cfg *config.Config) refresher.Config {
	schedule := strings.TrimSpace(cfg.Refresh.Schedule)
	if schedule == "" {
		schedule = config.DefaultRefreshSchedule
	}
	return refresher.Config{Enabled: cfg.Refresh.Enabled, Schedule: schedule, Timezone: cfg.Refresh.Timezone, Timeout: time.Minute}
}

// openLogStore returns nil when storage.driver is "none".
func openLogStore(cfg *config.Config, version string, log logx.Logger) (storage.Store, *logstore.Store, error) {
	sc, err := cfg.StorageConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := storage.Open(sc, log)
	if errors.Is(err, storage.ErrDisabled) {
		log.Info("submission log disabled")
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	ls := logstore.New(st,
		logstore.WithCapacity(cfg.Storage.Capacity),
		logstore.WithVersion(version),
		logstore.WithLogger(log.With(logx.String("comp", "logstore"))),
	)
	return st, ls, nil
}

// openInfoStore builds the account info cache; the closer is nil for memory.
func openInfoStore(ctx context.Context, cfg *config.Config) (account.InfoStore, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Driver)) {
	case "", "memory":
		return account.NewMemoryInfoStore(), nil, nil
	case "redis":
		ttl, err := config.ParseDurationField("cache.ttl", cfg.Cache.TTL)
		if err != nil {
			return nil, nil, err
		}
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("cache redis ping: %w", err)
		}
		opts := []account.RedisOption{account.WithTTL(ttl)}
		if p := strings.TrimSpace(cfg.Cache.Prefix); p != "" {
			opts = append(opts, account.WithPrefix(p))
		}
		s := account.NewRedisInfoStore(client, opts...)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache.driver: %s", cfg.Cache.Driver)
	}
}

func buildShared(cfg *config.Config, m *metrics.Metrics) (*gateway.Gateway, *transfer.Manager, error) {
	gc, err := cfg.GatewayConfig()
	if err != nil {
		return nil, nil, err
	}
	tc, err := cfg.TransferConfig()
	if err != nil {
		return nil, nil, err
	}
	gw := gateway.New(gc, gateway.WithObserver(m))
	tm := transfer.New(tc, transfer.WithObserver(m))
	return gw, tm, nil
}

// buildRegistry registers every built-in destination. Discord only needs a
// REST session, so a failure there disables just that adapter.
func buildRegistry(deps destination.Deps, log logx.Logger) *destination.Registry {
	reg := destination.NewRegistry()
	withLog := func(id string) destination.Deps {
		d := deps
		d.Log = log.With(logx.String("comp", "destination"), logx.String("destination", id))
		return d
	}
	register := func(a destination.Adapter) {
		if err := reg.Register(a); err != nil {
			log.Warn("adapter not registered", logx.Err(err))
		}
	}

	register(telegram.New(withLog(telegram.ID), telegram.BotDialer))
	register(pixelfed.New(withLog(pixelfed.ID), &http.Client{Timeout: 2 * time.Minute}))
	if hook, err := discord.NewSessionWebhook(); err != nil {
		log.Warn("discord disabled", logx.Err(err))
	} else {
		register(discord.New(withLog(discord.ID), hook))
	}
	return reg
}
