package menu

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

const defaultRefreshTimeout = 30 * time.Second

// CacheConfig tunes a Cache. Zero values take defaults.
type CacheConfig struct {
	RefreshTimeout time.Duration
	Placeholder    func(name string) string
}

// RefreshedEvent is the payload of eventbus.MenuRefreshed.
type RefreshedEvent struct {
	Sources  int
	Failed   int
	Duration time.Duration
}

// Cache holds the process-wide snapshot. Concurrent Refresh calls share a
// single in-flight fetch; the lock only covers the snapshot swap.
type Cache struct {
	fetcher Fetcher
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	sf singleflight.Group

	cfgMu   sync.RWMutex
	cfg     CacheConfig
	sources []Restaurant

	mu   sync.RWMutex
	snap Snapshot
	gen  uint64 // bumped by Clear
}

func NewCache(fetcher Fetcher, sources []Restaurant, cfg CacheConfig, log logx.Logger, bus eventbus.Bus) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	c := &Cache{fetcher: fetcher, log: log, bus: bus, now: time.Now}
	c.Configure(sources, cfg)
	return c
}

// Configure swaps the source list and settings. An in-flight refresh keeps
// the list it started with.
func (c *Cache) Configure(sources []Restaurant, cfg CacheConfig) {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Placeholder == nil {
		cfg.Placeholder = DefaultPlaceholder
	}
	cp := append([]Restaurant(nil), sources...)
	c.cfgMu.Lock()
	c.cfg, c.sources = cfg, cp
	c.cfgMu.Unlock()
}

// Refresh fetches every source and replaces the snapshot. Callers that
// arrive during a refresh wait for that one. A caller whose ctx ends stops
// waiting; the shared fetch continues, bounded by RefreshTimeout.
// A fetch that was in flight when Clear ran returns its result without
// storing it.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	ch := c.sf.DoChan("refresh", func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	c.cfgMu.RLock()
	cfg, sources := c.cfg, c.sources
	c.cfgMu.RUnlock()
	if len(sources) == 0 {
		return Snapshot{}, ErrNoSources
	}
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.RefreshTimeout)
	defer cancel()

	start := c.now()
	results := c.fetcher.Fetch(ctx, sources)
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
			c.log.Warn("menu source failed", logx.String("source", r.Name), logx.Err(r.Err))
		}
	}
	snap := Snapshot{Text: Format(results, cfg.Placeholder), FetchedAt: c.now()}

	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.snap = snap
	}
	c.mu.Unlock()

	dur := c.now().Sub(start)
	if stale {
		c.log.Info("menu refresh discarded, cache cleared meanwhile", logx.Duration("dur", dur))
		return snap, nil
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.MenuRefreshed, Data: RefreshedEvent{Sources: len(results), Failed: failed, Duration: dur}})
	c.log.Info("menu refreshed", logx.Int("sources", len(results)), logx.Int("failed", failed), logx.Duration("dur", dur))
	return snap, nil
}

// Get returns the cached text or ErrUnavailable. It never touches the network.
func (c *Cache) Get() (string, error) {
	s := c.Snapshot()
	if s.IsEmpty() {
		return "", ErrUnavailable
	}
	return s.Text, nil
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Fresh returns the snapshot when it is non-empty and at most maxAge old.
// maxAge <= 0 accepts any non-empty snapshot.
func (c *Cache) Fresh(maxAge time.Duration) (Snapshot, bool) {
	s := c.Snapshot()
	if s.IsEmpty() {
		return Snapshot{}, false
	}
	if maxAge > 0 && s.Age(c.now()) > maxAge {
		return Snapshot{}, false
	}
	return s, true
}

// Clear empties the cache and invalidates any refresh in flight. Clearing an
// empty cache publishes nothing.
func (c *Cache) Clear() {
	c.mu.Lock()
	was := !c.snap.IsEmpty()
	c.snap = Snapshot{}
	c.gen++
	c.mu.Unlock()
	if was {
		c.bus.Publish(eventbus.Event{Type: eventbus.MenuCleared})
		c.log.Info("menu cache cleared")
	}
}
