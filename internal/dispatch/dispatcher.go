// Package dispatch fans the cached menu out to every tenant that wants it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/tenant"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

var (
	ErrNoSendableChannel = errors.New("dispatch: no sendable channel")
	// ErrCutShort marks a tenant left unsent because the cycle ran out of time.
	ErrCutShort = errors.New("dispatch: cycle deadline reached")
)

const (
	defaultWorkers        = 4
	defaultRatePerSec     = 5
	defaultSendTimeout    = 10 * time.Second
	defaultRefreshTimeout = 30 * time.Second
)

// Gateway is the part of transport.Gateway used for delivery.
type Gateway interface {
	ListChannels(ctx context.Context, tenantID string) ([]transport.Channel, error)
	CanSend(ctx context.Context, ch transport.Channel) (bool, error)
	Send(ctx context.Context, ch transport.Channel, text string) error
}

type Registry interface {
	Snapshot() []tenant.Config
}

type Cache interface {
	Get() (string, error)
	Fresh(maxAge time.Duration) (menu.Snapshot, bool)
	Refresh(ctx context.Context) (menu.Snapshot, error)
}

type HolidayOracle interface {
	IsHoliday(t time.Time) bool
}

type Config struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration
	// RefreshTimeout bounds the synchronous refresh on a cold cache.
	RefreshTimeout time.Duration
	// FreshFor is the max snapshot age DispatchToOne serves without refetching.
	FreshFor time.Duration
	Location *time.Location

	FallbackNote string
	Unavailable  string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = defaultRefreshTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Dispatcher delivers one copy of the menu per tenant per cycle. Delivery is
// at-most-once; a failing tenant never affects the others.
type Dispatcher struct {
	gw       Gateway
	reg      Registry
	cache    Cache
	holidays HolidayOracle
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(gw Gateway, reg Registry, cache Cache, holidays HolidayOracle, cfg Config, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	d := &Dispatcher{gw: gw, reg: reg, cache: cache, holidays: holidays, log: log, bus: bus, now: time.Now}
	d.Configure(cfg)
	return d
}

// Configure applies new settings to later cycles.
func (d *Dispatcher) Configure(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limiter == nil || d.cfg.RatePerSec != cfg.RatePerSec {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	d.cfg = cfg
}

func (d *Dispatcher) config() (Config, *rate.Limiter) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.limiter
}

// DispatchToAll runs one delivery cycle. The holiday flag is evaluated once,
// at cycle start in the configured zone.
func (d *Dispatcher) DispatchToAll(ctx context.Context) (Report, error) {
	cfg, limiter := d.config()
	start := d.now().In(cfg.Location)
	rep := Report{CycleID: uuid.NewString(), Started: start}
	rep.Holiday = d.holidays != nil && d.holidays.IsHoliday(start)
	log := d.log.With(logx.String("cycle", rep.CycleID))

	text, err := d.menuText(ctx, cfg, log)
	if err != nil {
		rep.NoMenu = true
		d.finish(&rep, log)
		return rep, err
	}

	var targets []tenant.Config
	for _, t := range d.reg.Snapshot() {
		switch {
		case !t.SchedulerOn:
			rep.SkippedOff++
		case t.HolidaySkip && rep.Holiday:
			rep.SkippedHoliday++
		default:
			targets = append(targets, t)
		}
	}
	rep.Targets = len(targets)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(cfg.Workers)
	for _, t := range targets {
		g.Go(func() error {
			del, err := d.deliver(ctx, cfg, limiter, t, text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failures = append(rep.Failures, Failure{TenantID: t.TenantID, Error: err.Error()})
				switch {
				case errors.Is(err, ErrCutShort):
					rep.CutShort++
					return nil
				case errors.Is(err, ErrNoSendableChannel):
					rep.NoChannel++
				default:
					rep.Failed++
				}
				log.Warn("tenant delivery failed", logx.String("tenant", t.TenantID), logx.Err(err))
				return nil
			}
			rep.Delivered = append(rep.Delivered, del)
			rep.Sent++
			if del.Fallback {
				rep.Fallbacks++
			}
			return nil
		})
	}
	_ = g.Wait()

	if rep.CutShort > 0 {
		log.Warn("dispatch cycle cut short; raise the job timeout or the send rate",
			logx.Int("unsent", rep.CutShort),
			logx.Int("targets", rep.Targets),
			logx.Int("rate_per_sec", cfg.RatePerSec),
		)
	}
	d.finish(&rep, log)
	return rep, nil
}

// menuText reads the cache, refreshing once when it is cold.
func (d *Dispatcher) menuText(ctx context.Context, cfg Config, log logx.Logger) (string, error) {
	if text, err := d.cache.Get(); err == nil {
		return text, nil
	}
	log.Warn("menu cache cold at dispatch; refreshing")
	rctx, cancel := context.WithTimeout(ctx, cfg.RefreshTimeout)
	defer cancel()
	if _, err := d.cache.Refresh(rctx); err != nil {
		log.Warn("dispatch refresh failed", logx.Err(err))
	}
	text, err := d.cache.Get()
	if err != nil {
		log.Error("dispatch cycle skipped: no menu")
		return "", fmt.Errorf("dispatch: %w", err)
	}
	return text, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cfg Config, limiter *rate.Limiter, t tenant.Config, text string) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, fmt.Errorf("%w: %w", ErrCutShort, err)
	}
	ch, fallback, err := d.Resolve(ctx, t.TenantID, t.Channel)
	if err != nil {
		return Delivery{}, err
	}
	body := text
	if fallback {
		body = cfg.FallbackNote + text
	}
	// Wait fails at once when the next token lies past the deadline.
	if err := limiter.Wait(ctx); err != nil {
		return Delivery{}, fmt.Errorf("%w: %w", ErrCutShort, err)
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := d.gw.Send(sctx, ch, body); err != nil {
		return Delivery{}, fmt.Errorf("send to %s: %w", ch.Name, err)
	}
	return Delivery{TenantID: t.TenantID, ChannelID: ch.ID, ChannelName: ch.Name, Fallback: fallback}, nil
}

// Resolve picks the tenant's configured channel when the bot can post there,
// otherwise the first sendable channel in transport.SortChannels order.
func (d *Dispatcher) Resolve(ctx context.Context, tenantID, preferred string) (transport.Channel, bool, error) {
	chs, err := d.gw.ListChannels(ctx, tenantID)
	if err != nil {
		return transport.Channel{}, false, fmt.Errorf("list channels: %w", err)
	}
	transport.SortChannels(chs)

	primary, found := transport.FindChannel(chs, preferred)
	if found && d.canSend(ctx, primary) {
		return primary, false, nil
	}
	for _, c := range chs {
		if found && c.ID == primary.ID {
			continue
		}
		if d.canSend(ctx, c) {
			return c, true, nil
		}
	}
	return transport.Channel{}, false, fmt.Errorf("%w: tenant %s", ErrNoSendableChannel, tenantID)
}

func (d *Dispatcher) canSend(ctx context.Context, ch transport.Channel) bool {
	ok, err := d.gw.CanSend(ctx, ch)
	if err != nil {
		d.log.Debug("permission check failed", logx.String("tenant", ch.TenantID), logx.String("channel", ch.ID), logx.Err(err))
		return false
	}
	return ok
}

// DispatchToOne returns the menu text for an on-demand request: a fresh
// cached copy, else the result of a bounded refresh. When no menu can be
// produced it returns the unavailable text together with menu.ErrUnavailable.
func (d *Dispatcher) DispatchToOne(ctx context.Context, tenantID string) (string, error) {
	cfg, _ := d.config()
	if snap, ok := d.cache.Fresh(cfg.FreshFor); ok {
		return snap.Text, nil
	}
	rctx, cancel := context.WithTimeout(ctx, cfg.RefreshTimeout)
	defer cancel()
	snap, err := d.cache.Refresh(rctx)
	if err == nil && !snap.IsEmpty() {
		return snap.Text, nil
	}
	d.log.Info("menu unavailable on demand", logx.String("tenant", tenantID), logx.Err(err))
	return cfg.Unavailable, menu.ErrUnavailable
}

func (d *Dispatcher) finish(rep *Report, log logx.Logger) {
	rep.Duration = d.now().Sub(rep.Started)
	d.bus.Publish(eventbus.Event{Type: eventbus.DispatchFinished, Data: *rep})
	log.Info("dispatch cycle finished",
		logx.Bool("holiday", rep.Holiday),
		logx.Int("targets", rep.Targets),
		logx.Int("sent", rep.Sent),
		logx.Int("skipped_off", rep.SkippedOff),
		logx.Int("skipped_holiday", rep.SkippedHoliday),
		logx.Int("fallbacks", rep.Fallbacks),
		logx.Int("no_channel", rep.NoChannel),
		logx.Int("failed", rep.Failed),
		logx.Int("cut_short", rep.CutShort),
		logx.Duration("dur", rep.Duration),
	)
}
