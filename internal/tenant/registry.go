// Package tenant holds the durable per-tenant delivery settings.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	"github.com/Hawon-Oh/NyamNyamPing/internal/storage"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

var (
	ErrStorageRead   = errors.New("tenant registry: storage read failed")
	ErrStorageWrite  = errors.New("tenant registry: storage write failed")
	ErrUnknownTenant = errors.New("tenant registry: unknown tenant")
)

// Config is the delivery policy of one tenant.
type Config struct {
	TenantID    string
	Channel     string
	HolidaySkip bool
	SchedulerOn bool
}

// Defaults are applied to tenants seen for the first time.
type Defaults struct {
	Channel     string
	HolidaySkip bool
	SchedulerOn bool
}

// DefaultDefaults matches a freshly joined server: "general", holiday skip
// on, automatic messages off.
var DefaultDefaults = Defaults{Channel: "general", HolidaySkip: true}

// Change is published on the bus after a successful mutation.
type Change struct {
	TenantID string
	Field    string
	Before   Config
	After    Config
}

// Registry maps tenant ids to Config. Reads never wait on disk: mu guards
// the map only, persistMu orders mutate+persist+rollback.
type Registry struct {
	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus

	persistMu sync.Mutex

	mu       sync.RWMutex
	tenants  map[string]Config
	defaults Defaults
}

func NewRegistry(store storage.Store, defaults Defaults, log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Registry{
		store:    store,
		log:      log,
		bus:      bus,
		tenants:  map[string]Config{},
		defaults: normalizeDefaults(defaults),
	}
}

// SetDefaults replaces the defaults used for tenants created later.
func (r *Registry) SetDefaults(d Defaults) {
	r.mu.Lock()
	r.defaults = normalizeDefaults(d)
	r.mu.Unlock()
}

func (r *Registry) Defaults() Defaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

func normalizeDefaults(d Defaults) Defaults {
	d.Channel = strings.TrimSpace(d.Channel)
	if d.Channel == "" {
		d.Channel = DefaultDefaults.Channel
	}
	return d
}

// Load replaces the in-memory map with the persisted document.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.store.LoadTenants(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	m := make(map[string]Config, len(recs))
	for id, rec := range recs {
		m[id] = fromRecord(id, rec)
	}
	r.mu.Lock()
	r.tenants = m
	r.mu.Unlock()
	r.log.Info("tenant registry loaded", logx.Int("tenants", len(m)))
	return nil
}

// Reconcile makes the registry keys equal liveIDs. New ids get defaults,
// absent ids are dropped. It persists only when something changed.
func (r *Registry) Reconcile(ctx context.Context, liveIDs []string) (added, removed []string, err error) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		if id = strings.TrimSpace(id); id != "" {
			live[id] = struct{}{}
		}
	}

	r.mu.Lock()
	prev := cloneMap(r.tenants)
	for id := range live {
		if _, ok := r.tenants[id]; !ok {
			r.tenants[id] = r.newConfigLocked(id)
			added = append(added, id)
		}
	}
	for id := range r.tenants {
		if _, ok := live[id]; !ok {
			delete(r.tenants, id)
			removed = append(removed, id)
		}
	}
	next := cloneMap(r.tenants)
	r.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)
	if len(added) == 0 && len(removed) == 0 {
		return nil, nil, nil
	}
	if err := r.persist(ctx, next); err != nil {
		r.mu.Lock()
		r.tenants = prev
		r.mu.Unlock()
		return nil, nil, err
	}
	r.log.Info("tenant registry reconciled", logx.Strings("added", added), logx.Strings("removed", removed))
	return added, removed, nil
}

func (r *Registry) Get(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.tenants[id]
	return c, ok
}

// Snapshot returns a copy sorted by tenant id.
func (r *Registry) Snapshot() []Config {
	r.mu.RLock()
	out := make([]Config, 0, len(r.tenants))
	for _, c := range r.tenants {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// Add registers a joined tenant with defaults. It is a no-op for known ids.
func (r *Registry) Add(ctx context.Context, id string) (Config, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Config{}, fmt.Errorf("%w: empty id", ErrUnknownTenant)
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	if c, ok := r.tenants[id]; ok {
		r.mu.Unlock()
		return c, nil
	}
	c := r.newConfigLocked(id)
	r.tenants[id] = c
	next := cloneMap(r.tenants)
	r.mu.Unlock()

	if err := r.persist(ctx, next); err != nil {
		r.mu.Lock()
		delete(r.tenants, id)
		r.mu.Unlock()
		return Config{}, err
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TenantJoined, Data: c})
	r.log.Info("tenant added", logx.String("tenant", id))
	return c, nil
}

// Remove drops a tenant that left. It is a no-op for unknown ids.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	c, ok := r.tenants[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.tenants, id)
	next := cloneMap(r.tenants)
	r.mu.Unlock()

	if err := r.persist(ctx, next); err != nil {
		r.mu.Lock()
		r.tenants[id] = c
		r.mu.Unlock()
		return err
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TenantLeft, Data: c})
	r.log.Info("tenant removed", logx.String("tenant", id))
	return nil
}

// SetChannel changes the preferred channel name (or id).
func (r *Registry) SetChannel(ctx context.Context, id, channel string) (Config, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return Config{}, errors.New("tenant registry: empty channel")
	}
	return r.mutate(ctx, id, "channel", func(c *Config) { c.Channel = channel })
}

func (r *Registry) ToggleHolidaySkip(ctx context.Context, id string) (Config, error) {
	return r.mutate(ctx, id, "holiday_skip", func(c *Config) { c.HolidaySkip = !c.HolidaySkip })
}

func (r *Registry) ToggleScheduler(ctx context.Context, id string) (Config, error) {
	return r.mutate(ctx, id, "scheduler_on", func(c *Config) { c.SchedulerOn = !c.SchedulerOn })
}

// mutate applies fn in memory, persists, and rolls back on failure. An id
// that is not registered yet is created from defaults first.
func (r *Registry) mutate(ctx context.Context, id, field string, fn func(*Config)) (Config, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Config{}, fmt.Errorf("%w: empty id", ErrUnknownTenant)
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	before, existed := r.tenants[id]
	if !existed {
		before = r.newConfigLocked(id)
	}
	after := before
	fn(&after)
	r.tenants[id] = after
	next := cloneMap(r.tenants)
	r.mu.Unlock()

	if err := r.persist(ctx, next); err != nil {
		r.mu.Lock()
		if existed {
			r.tenants[id] = before
		} else {
			delete(r.tenants, id)
		}
		r.mu.Unlock()
		r.log.Warn("tenant change rolled back", logx.String("tenant", id), logx.String("field", field), logx.Err(err))
		return before, err
	}

	r.bus.Publish(eventbus.Event{Type: eventbus.TenantChanged, Data: Change{TenantID: id, Field: field, Before: before, After: after}})
	r.log.Info("tenant changed", logx.String("tenant", id), logx.String("field", field))
	return after, nil
}

func (r *Registry) persist(ctx context.Context, m map[string]Config) error {
	recs := make(map[string]storage.TenantRecord, len(m))
	for id, c := range m {
		recs[id] = storage.TenantRecord{Channel: c.Channel, HolidaySkip: c.HolidaySkip, SchedulerOn: c.SchedulerOn}
	}
	if err := r.store.SaveTenants(ctx, recs); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return nil
}

func (r *Registry) newConfigLocked(id string) Config {
	d := r.defaults
	return Config{TenantID: id, Channel: d.Channel, HolidaySkip: d.HolidaySkip, SchedulerOn: d.SchedulerOn}
}

func fromRecord(id string, rec storage.TenantRecord) Config {
	return Config{TenantID: id, Channel: rec.Channel, HolidaySkip: rec.HolidaySkip, SchedulerOn: rec.SchedulerOn}
}

func cloneMap(m map[string]Config) map[string]Config {
	out := make(map[string]Config, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
