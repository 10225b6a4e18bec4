package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postcast/internal/account"
	"postcast/internal/config"
	"postcast/internal/describe"
	"postcast/internal/destination"
	"postcast/internal/eventbus"
	"postcast/internal/httpapi"
	"postcast/internal/logstore"
	"postcast/internal/metrics"
	"postcast/internal/poster"
	"postcast/internal/refresher"
	"postcast/internal/runtime/supervisor"
	"postcast/internal/settings"
	"postcast/internal/storage"
	"postcast/internal/tagconv"
	"postcast/pkg/logx"
)

// Version is stamped into every log entry; overridden with -ldflags.
var Version = "dev"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	logStore  *logstore.Store
	infoClose func() error

	settings *settings.Store
	tags     *tagconv.Set
	accounts *account.StaticDirectory

	registry  *destination.Registry
	engine    *describe.Engine
	poster    *poster.Poster
	metrics   *metrics.Metrics
	refresher *refresher.Service
	http      *httpapi.Server
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log)
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}

	if err := a.build(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	var err error
	a.store, a.logStore, err = openLogStore(cfg, Version, log)
	if err != nil {
		return err
	}
	info, closer, err := openInfoStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	a.infoClose = closer

	a.metrics = metrics.New()
	gw, tm, err := buildShared(cfg, a.metrics)
	if err != nil {
		return err
	}
	a.registry = buildRegistry(destination.Deps{Gateway: gw, Transfer: tm, Info: info}, log)

	a.settings = settings.New(cfg.Settings, cfg.Shortcuts)
	if a.tags, err = tagconv.New(cfg.TagConverters); err != nil {
		return err
	}
	a.accounts = account.NewStaticDirectory(cfg.Accounts)

	a.engine = describe.New(a.registry,
		describe.WithShortcuts(a.settings),
		describe.WithSettings(a.settings),
		describe.WithLogger(log.With(logx.String("comp", "describe"))),
	)
	a.poster = poster.New(a.registry, a.engine, a.accounts,
		poster.WithConcurrency(cfg.Poster.Concurrency),
		poster.WithTagConverters(a.tags),
		poster.WithLogStore(a.logStore),
		poster.WithBus(a.bus),
		poster.WithObserver(a.metrics),
		poster.WithLogger(log.With(logx.String("comp", "poster"))),
	)
	a.refresher = refresher.New(a.registry, a.accounts, mapRefresh(cfg), nil, log.With(logx.String("comp", "refresher")))

	rt, wt, err := cfg.HTTPTimeouts()
	if err != nil {
		return err
	}
	deps := httpapi.Deps{
		Poster:       a.poster,
		Registry:     a.registry,
		Statuses:     a.refresher,
		Metrics:      a.metrics.Handler(),
		Token:        cfg.HTTP.Token,
		Pprof:        cfg.HTTP.Pprof,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		Log:          log.With(logx.String("comp", "http")),
	}
	if a.logStore != nil {
		deps.Logs = a.logStore
	}
	a.http = httpapi.New(deps)
	return nil
}

func (a *App) Config() *config.Config             { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger                { return a.log }
func (a *App) Poster() *poster.Poster             { return a.poster }
func (a *App) Engine() *describe.Engine           { return a.engine }
func (a *App) Registry() *destination.Registry    { return a.registry }
func (a *App) Accounts() account.Directory        { return a.accounts }
func (a *App) Refresher() *refresher.Service      { return a.refresher }
func (a *App) TagConverters() *tagconv.Set        { return a.tags }
func (a *App) HTTP() *httpapi.Server              { return a.http }
func (a *App) Bus() eventbus.Bus                  { return a.bus }
func (a *App) Metrics() *metrics.Metrics          { return a.metrics }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Logs is nil when storage.driver is "none".
func (a *App) Logs() *logstore.Store { return a.logStore }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := cfg.GatewayConfig(); err != nil {
		return err
	}
	if _, err := cfg.TransferConfig(); err != nil {
		return err
	}
	if _, err := cfg.StorageConfig(); err != nil {
		return err
	}
	if _, _, err := cfg.HTTPTimeouts(); err != nil {
		return err
	}
	if err := a.refresher.ParseSchedule(cfg.Refresh.Schedule); err != nil {
		return fmt.Errorf("refresh.schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Refresh.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("refresh.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := tagconv.New(cfg.TagConverters); err != nil {
		return fmt.Errorf("tag_converters: %w", err)
	}
	for _, acct := range cfg.Accounts {
		if _, err := a.registry.Get(acct.Destination); err != nil {
			return fmt.Errorf("account %s: %w", acct.ID, err)
		}
	}
	return nil
}

// Start runs the background services: login refresh, the HTTP API when
// enabled, and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validate)
	if err := a.validate(ctx, a.cfgm.Get()); err != nil {
		return err
	}
	cfg := a.cfgm.Get()

	if err := a.refresher.Start(a.sup.Context()); err != nil {
		return err
	}
	if cfg.Refresh.Enabled {
		// warm the caches once at startup
		a.sup.Go("refresh.initial", func(c context.Context) error {
			a.refresher.RunOnce(c)
			return nil
		})
	}

	if cfg.HTTP.Enabled {
		addr := strings.TrimSpace(cfg.HTTP.Addr)
		if addr == "" {
			addr = config.DefaultHTTPAddr
		}
		a.sup.Go("http", func(c context.Context) error {
			return a.http.Run(c, addr)
		})
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", supervisor.RestartPolicy{}, func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("version", Version), logx.Strs("destinations", a.registry.IDs()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Bound each step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("in-flight posts", 5*time.Second, func(context.Context) error {
		for _, id := range a.poster.InFlight() {
			a.poster.Cancel(id, "shutting down")
		}
		return nil
	})
	step("refresher", 2*time.Second, func(c context.Context) error { a.refresher.Stop(c); return nil })
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.Close()
	return nil
}

// Close releases storage and logging without touching background loops. The
// CLI uses it for one-shot commands.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
		a.store = nil
	}
	if a.infoClose != nil {
		if err := a.infoClose(); err != nil {
			a.log.Warn("cache close", logx.Err(err))
		}
		a.infoClose = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
