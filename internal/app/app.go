// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/commands"
	"github.com/Hawon-Oh/NyamNyamPing/internal/config"
	"github.com/Hawon-Oh/NyamNyamPing/internal/dispatch"
	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	"github.com/Hawon-Oh/NyamNyamPing/internal/holiday"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu/kakao"
	"github.com/Hawon-Oh/NyamNyamPing/internal/observability/debug"
	"github.com/Hawon-Oh/NyamNyamPing/internal/observability/metrics"
	rtsup "github.com/Hawon-Oh/NyamNyamPing/internal/runtime/supervisor"
	"github.com/Hawon-Oh/NyamNyamPing/internal/schedule"
	"github.com/Hawon-Oh/NyamNyamPing/internal/storage"
	"github.com/Hawon-Oh/NyamNyamPing/internal/task/engine"
	"github.com/Hawon-Oh/NyamNyamPing/internal/task/scheduler"
	"github.com/Hawon-Oh/NyamNyamPing/internal/tenant"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport/discord"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport/telegram"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
	"github.com/Hawon-Oh/NyamNyamPing/pkg/systemd"
)

const (
	updatesBuffer  = 256
	messagesBuffer = 128
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	gw       transport.Gateway
	registry *tenant.Registry

	fetcher    *kakao.Fetcher
	cache      *menu.Cache
	calendar   *holiday.Calendar
	dispatcher *dispatch.Dispatcher

	engine     *engine.Service
	sched      *scheduler.Service
	controller *schedule.Controller

	router  *commands.Router
	metrics *metrics.Metrics
	debug   *debug.Service

	updates chan transport.Update
}

// NewApp loads the settings document and builds every component. Nothing
// connects or starts until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return config.Validate(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(LogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	store, err := storage.Open(StorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	registry := tenant.NewRegistry(store, TenantDefaults(cfg), log.With(logx.String("comp", "tenant")), bus)

	gw, err := newGateway(cfg, log.With(logx.String("comp", "gateway")))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	if cfg.Logging.Chat.Enabled {
		logs.SetSender(chatLogSender{gw: gw, ch: chatLogChannel(cfg)})
	}

	fetcher := kakao.New(&http.Client{}, FetcherConfig(cfg), log.With(logx.String("comp", "kakao")))
	cache := menu.NewCache(fetcher, Restaurants(cfg), CacheConfig(cfg), log.With(logx.String("comp", "menu")), bus)
	calendar, err := holiday.NewCalendar(HolidayConfig(cfg))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	eng := engine.New(EngineConfig(cfg), log.With(logx.String("comp", "engine")), bus)
	sched := scheduler.New(scheduler.Config{Timezone: Timezone(cfg)}, eng, log.With(logx.String("comp", "scheduler")))
	dispatcher := dispatch.New(gw, registry, cache, calendar, dispatchConfigIn(cfg, sched), log.With(logx.String("comp", "dispatch")), bus)
	acts := jobActions{cache: cache, dispatcher: dispatcher, log: log.With(logx.String("comp", "jobs")), status: systemd.Status}
	controller := schedule.NewController(sched, acts, log.With(logx.String("comp", "schedule")))

	table, err := commands.BuildTable(cfg.Commands)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	router := commands.NewRouter(table, commands.Deps{
		Replier:  gw,
		Channels: gw,
		Tenants:  registry,
		Menu:     dispatcher,
		Fetch:    cache,
		Audit:    store,
	}, commands.Options{}, log.With(logx.String("comp", "commands")), bus)
	router.SetCatalog(Catalog(cfg))
	router.SetOwners(cfg.Commands.OwnerIDs)
	router.SetInfo(HelpInfo(cfg))

	m := metrics.New(registry.Len)
	dbg := debug.New(DebugConfig(cfg), debug.Sources{
		Metrics: m.Handler(),
		Jobs:    controller,
		Tenants: registry.Snapshot,
		Tasks:   eng.Snapshot,
	}, log)

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logs,
		bus:        bus,
		store:      store,
		gw:         gw,
		registry:   registry,
		fetcher:    fetcher,
		cache:      cache,
		calendar:   calendar,
		dispatcher: dispatcher,
		engine:     eng,
		sched:      sched,
		controller: controller,
		router:     router,
		metrics:    m,
		debug:      dbg,
		updates:    make(chan transport.Update, updatesBuffer),
	}, nil
}

func newGateway(cfg *config.Config, log logx.Logger) (transport.Gateway, error) {
	ready := config.MustDuration(cfg.Gateway.ReadyTimeout, 0)
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.Driver)) {
	case "discord":
		return discord.New(discord.Config{Token: cfg.Gateway.Token, ReadyTimeout: ready}, log)
	case "telegram":
		return telegram.New(telegram.Config{
			Token:       cfg.Gateway.Token,
			PollTimeout: config.MustDuration(cfg.Gateway.PollTimeout, 0),
		}, log)
	default:
		return nil, fmt.Errorf("gateway.driver: unknown %q", cfg.Gateway.Driver)
	}
}

func chatLogChannel(cfg *config.Config) transport.Channel {
	return transport.Channel{
		TenantID: strings.TrimSpace(cfg.Logging.Chat.TenantID),
		ID:       strings.TrimSpace(cfg.Logging.Chat.ChannelID),
	}
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if err := a.registry.Load(runCtx); err != nil {
		return err
	}
	if s, ok := a.gw.(interface{ Seed([]string) }); ok {
		s.Seed(tenantIDs(a.registry.Snapshot()))
	}

	a.sup.Go0("metrics", func(c context.Context) { a.metrics.Run(c, a.bus) })
	a.startEventLog()

	if err := a.gw.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("gateway start: %w", err)
	}
	live, err := a.gw.ListTenants(runCtx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	ids := make([]string, 0, len(live))
	for _, t := range live {
		ids = append(ids, t.ID)
	}
	added, removed, err := a.registry.Reconcile(runCtx, ids)
	if err != nil {
		return err
	}
	a.log.Info("tenants reconciled",
		logx.Int("live", len(ids)),
		logx.Int("added", len(added)),
		logx.Int("removed", len(removed)),
	)

	a.engine.Start(runCtx)
	plan, err := SchedulePlan(a.cfgm.Get())
	if err != nil {
		return err
	}
	if err := a.controller.Start(runCtx, plan); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	msgs := make(chan *transport.Message, messagesBuffer)
	a.sup.Go("commands", func(c context.Context) error { return a.router.Run(c, msgs) })
	a.sup.Go0("updates", func(c context.Context) { a.pumpUpdates(c, msgs) })

	a.debug.Start(runCtx)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return systemd.Watchdog(c, func() bool { return a.sup.Err() == nil })
		})
	}

	a.log.Info("app started",
		logx.Int("tenants", a.registry.Len()),
		logx.Int("jobs", len(a.controller.Jobs())),
	)
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// pumpUpdates routes gateway updates: messages to the command router,
// membership changes to the registry.
func (a *App) pumpUpdates(ctx context.Context, msgs chan<- *transport.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			a.handleUpdate(ctx, up, msgs)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up transport.Update, msgs chan<- *transport.Message) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message == nil {
			return
		}
		select {
		case msgs <- up.Message:
		default:
			a.log.Warn("message dropped: router busy", logx.String("tenant", up.Message.TenantID))
		}
	case transport.UpdateTenantJoined:
		if up.Tenant == nil {
			return
		}
		if _, err := a.registry.Add(ctx, up.Tenant.ID); err != nil {
			a.log.Error("tenant join not persisted", logx.String("tenant", up.Tenant.ID), logx.Err(err))
			return
		}
		a.log.Info("tenant joined", logx.String("tenant", up.Tenant.ID), logx.String("name", up.Tenant.Name))
	case transport.UpdateTenantLeft:
		if up.Tenant == nil {
			return
		}
		if err := a.registry.Remove(ctx, up.Tenant.ID); err != nil {
			a.log.Error("tenant leave not persisted", logx.String("tenant", up.Tenant.ID), logx.Err(err))
			return
		}
		a.log.Info("tenant left", logx.String("tenant", up.Tenant.ID))
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.apply(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply hot-swaps everything that can change without a restart.
func (a *App) apply(ctx context.Context, oldCfg, newCfg *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed in sections that need a restart", logx.Strings("sections", rr))
	}

	if newCfg.Logging.Chat.Enabled {
		a.logs.SetSender(chatLogSender{gw: a.gw, ch: chatLogChannel(newCfg)})
	}
	a.logs.Apply(LogConfig(newCfg))

	a.sched.Apply(scheduler.Config{Timezone: Timezone(newCfg)})
	if plan, err := SchedulePlan(newCfg); err != nil {
		a.log.Warn("invalid schedule; keeping previous jobs", logx.Err(err))
	} else if err := a.controller.Reschedule(plan); err != nil {
		a.log.Warn("reschedule failed; keeping previous jobs", logx.Err(err))
	}

	a.fetcher.Configure(FetcherConfig(newCfg))
	a.cache.Configure(Restaurants(newCfg), CacheConfig(newCfg))
	if err := a.calendar.Apply(HolidayConfig(newCfg)); err != nil {
		a.log.Warn("invalid holidays; keeping previous calendar", logx.Err(err))
	}
	a.dispatcher.Configure(dispatchConfigIn(newCfg, a.sched))
	a.registry.SetDefaults(TenantDefaults(newCfg))

	if table, err := commands.BuildTable(newCfg.Commands); err != nil {
		a.log.Warn("invalid commands; keeping previous table", logx.Err(err))
	} else {
		a.router.SetTable(table)
	}
	a.router.SetCatalog(Catalog(newCfg))
	a.router.SetOwners(newCfg.Commands.OwnerIDs)
	a.router.SetInfo(HelpInfo(newCfg))

	a.debug.Reconfigure(ctx, DebugConfig(newCfg))

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Never extend the caller's deadline.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("schedule", 2*time.Second, func(c context.Context) error { a.controller.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("gateway", 3*time.Second, func(c context.Context) error { return a.gw.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func tenantIDs(cfgs []tenant.Config) []string {
	out := make([]string, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, c.TenantID)
	}
	return out
}
