package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/tenant"
	"github.com/Hawon-Oh/NyamNyamPing/internal/transport"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu       sync.Mutex
	channels map[string][]transport.Channel
	blocked  map[string]bool // channel id -> cannot send
	failSend map[string]error
	sent     map[string][]string // channel id -> texts
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		channels: map[string][]transport.Channel{},
		blocked:  map[string]bool{},
		failSend: map[string]error{},
		sent:     map[string][]string{},
	}
}

func (g *fakeGateway) addChannel(tenantID, id, name string, age time.Duration) {
	g.channels[tenantID] = append(g.channels[tenantID], transport.Channel{TenantID: tenantID, ID: id, Name: name, CreatedAt: t0.Add(age)})
}

func (g *fakeGateway) ListChannels(_ context.Context, tenantID string) ([]transport.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]transport.Channel(nil), g.channels[tenantID]...), nil
}

func (g *fakeGateway) CanSend(_ context.Context, ch transport.Channel) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.blocked[ch.ID], nil
}

func (g *fakeGateway) Send(_ context.Context, ch transport.Channel, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failSend[ch.ID]; err != nil {
		return err
	}
	g.sent[ch.ID] = append(g.sent[ch.ID], text)
	return nil
}

func (g *fakeGateway) sentTo(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sent[id]
}

type fakeRegistry []tenant.Config

func (r fakeRegistry) Snapshot() []tenant.Config { return r }

type fakeCache struct {
	snap      menu.Snapshot
	refreshes atomic.Int32
	refill    string
}

func (c *fakeCache) Get() (string, error) {
	if c.snap.IsEmpty() {
		return "", menu.ErrUnavailable
	}
	return c.snap.Text, nil
}

func (c *fakeCache) Fresh(maxAge time.Duration) (menu.Snapshot, bool) {
	if c.snap.IsEmpty() {
		return menu.Snapshot{}, false
	}
	if maxAge > 0 && time.Since(c.snap.FetchedAt) > maxAge {
		return menu.Snapshot{}, false
	}
	return c.snap, true
}

func (c *fakeCache) Refresh(context.Context) (menu.Snapshot, error) {
	c.refreshes.Add(1)
	if c.refill != "" {
		c.snap = menu.Snapshot{Text: c.refill, FetchedAt: time.Now()}
	}
	return c.snap, nil
}

type holidayFlag struct {
	on    bool
	calls atomic.Int32
}

func (h *holidayFlag) IsHoliday(time.Time) bool {
	h.calls.Add(1)
	return h.on
}

const menuText = "한식뷔페: https://cdn.example/a.jpg\n"

func warmCache() *fakeCache {
	return &fakeCache{snap: menu.Snapshot{Text: menuText, FetchedAt: time.Now()}}
}

func newTestDispatcher(gw *fakeGateway, reg fakeRegistry, cache *fakeCache, h *holidayFlag) *Dispatcher {
	var oracle HolidayOracle
	if h != nil {
		oracle = h
	}
	return New(gw, reg, cache, oracle, Config{Workers: 2, RatePerSec: 1000, FallbackNote: "NOTE\n", Unavailable: "없음"}, logx.Nop(), nil)
}

func TestSchedulerOffReceivesNothing(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.addChannel("A", "a1", "general", 0)
	d := newTestDispatcher(gw, fakeRegistry{{TenantID: "A", Channel: "general", SchedulerOn: false}}, warmCache(), &holidayFlag{})

	rep, err := d.DispatchToAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.sentTo("a1")) != 0 || rep.SkippedOff != 1 || rep.Sent != 0 {
		t.Fatalf("rep=%+v sent=%v", rep, gw.sent)
	}
}

func TestHolidaySkipsOnlyOptedInTenants(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.addChannel("A", "a1", "general", 0)
	gw.addChannel("B", "b1", "general", 0)
	h := &holidayFlag{on: true}
	reg := fakeRegistry{
		{TenantID: "A", Channel: "general", SchedulerOn: true, HolidaySkip: true},
		{TenantID: "B", Channel: "general", SchedulerOn: true, HolidaySkip: false},
	}
	d := newTestDispatcher(gw, reg, warmCache(), h)

	rep, err := d.DispatchToAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.sentTo("a1")) != 0 {
		t.Fatalf("holiday-skip tenant received %v", gw.sentTo("a1"))
	}
	if got := gw.sentTo("b1"); len(got) != 1 || got[0] != menuText {
		t.Fatalf("tenant B got %q", got)
	}
	if !rep.Holiday || rep.SkippedHoliday != 1 || rep.Sent != 1 {
		t.Fatalf("rep=%+v", rep)
	}
	if h.calls.Load() != 1 {
		t.Fatalf("holiday evaluated %d times", h.calls.Load())
	}
}

func TestFallbackToFirstSendableChannel(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	// "general" is absent. "announcements" is older but not sendable.
	gw.addChannel("A", "c3", "random", 2*time.Hour)
	gw.addChannel("A", "c1", "announcements", time.Hour)
	gw.addChannel("A", "c4", "zzz", 3*time.Hour)
	gw.blocked["c1"] = true

	d := newTestDispatcher(gw, fakeRegistry{{TenantID: "A", Channel: "general", SchedulerOn: true}}, warmCache(), &holidayFlag{})
	rep, err := d.DispatchToAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := gw.sentTo("c3")
	if len(got) != 1 || got[0] != "NOTE\n"+menuText {
		t.Fatalf("random got %q (all=%v)", got, gw.sent)
	}
	if rep.Fallbacks != 1 || len(rep.Delivered) != 1 || !rep.Delivered[0].Fallback {
		t.Fatalf("rep=%+v", rep)
	}
}

func TestPrimaryWithoutPermissionFallsBack(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.addChannel("A", "c1", "general", 0)
	gw.addChannel("A", "c2", "random", time.Hour)
	gw.blocked["c1"] = true
	d := newTestDispatcher(gw, nil, warmCache(), nil)

	ch, fallback, err := d.Resolve(context.Background(), "A", "general")
	if err != nil || !fallback || ch.ID != "c2" {
		t.Fatalf("ch=%+v fallback=%v err=%v", ch, fallback, err)
	}
	ch, fallback, err = d.Resolve(context.Background(), "A", "#random")
	if err != nil || fallback || ch.ID != "c2" {
		t.Fatalf("by name: ch=%+v fallback=%v err=%v", ch, fallback, err)
	}
}

func TestFailuresAreIsolatedPerTenant(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.addChannel("A", "a1", "general", 0)
	gw.blocked["a1"] = true // no sendable channel at all
	gw.addChannel("B", "b1", "general", 0)
	gw.failSend["b1"] = transport.ErrForbidden
	gw.addChannel("C", "c1", "general", 0)

	reg := fakeRegistry{
		{TenantID: "A", Channel: "general", SchedulerOn: true},
		{TenantID: "B", Channel: "general", SchedulerOn: true},
		{TenantID: "C", Channel: "general", SchedulerOn: true},
	}
	d := newTestDispatcher(gw, reg, warmCache(), &holidayFlag{})
	rep, err := d.DispatchToAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.sentTo("c1")) != 1 {
		t.Fatalf("tenant C not delivered")
	}
	if rep.NoChannel != 1 || rep.Failed != 1 || rep.Sent != 1 || len(rep.Failures) != 2 {
		t.Fatalf("rep=%+v", rep)
	}
	for _, f := range rep.Failures {
		if f.TenantID == "B" && !strings.Contains(f.Error, "forbidden") {
			t.Fatalf("B failure=%q", f.Error)
		}
	}
}

func TestColdCacheRefreshesOnce(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.addChannel("A", "a1", "general", 0)
	reg := fakeRegistry{{TenantID: "A", Channel: "general", SchedulerOn: true}}

	cold := &fakeCache{refill: menuText}
	d := newTestDispatcher(gw, reg, cold, &holidayFlag{})
	if _, err := d.DispatchToAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cold.refreshes.Load() != 1 || len(gw.sentTo("a1")) != 1 {
		t.Fatalf("refreshes=%d sent=%v", cold.refreshes.Load(), gw.sent)
	}

	empty := &fakeCache{}
	d = newTestDispatcher(newFakeGateway(), reg, empty, &holidayFlag{})
	rep, err := d.DispatchToAll(context.Background())
	if !errors.Is(err, menu.ErrUnavailable) || !rep.NoMenu {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if empty.refreshes.Load() != 1 {
		t.Fatalf("refreshes=%d", empty.refreshes.Load())
	}
}

func TestDispatchToOne(t *testing.T) {
	t.Parallel()

	warm := warmCache()
	d := newTestDispatcher(newFakeGateway(), nil, warm, nil)
	text, err := d.DispatchToOne(context.Background(), "A")
	if err != nil || text != menuText || warm.refreshes.Load() != 0 {
		t.Fatalf("text=%q err=%v refreshes=%d", text, err, warm.refreshes.Load())
	}

	empty := &fakeCache{}
	d = newTestDispatcher(newFakeGateway(), nil, empty, nil)
	text, err = d.DispatchToOne(context.Background(), "A")
	if !errors.Is(err, menu.ErrUnavailable) || text != "없음" {
		t.Fatalf("text=%q err=%v", text, err)
	}
}

func TestCycleDeadlineCutsShort(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	var reg fakeRegistry
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		gw.addChannel(id, id+"1", "general", 0)
		reg = append(reg, tenant.Config{TenantID: id, Channel: "general", SchedulerOn: true})
	}
	// One token up front, the next a second away: only one send fits.
	d := New(gw, reg, warmCache(), nil, Config{Workers: 1, RatePerSec: 1}, logx.Nop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	rep, err := d.DispatchToAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Sent != 1 || rep.CutShort != 4 || rep.Failed != 0 {
		t.Fatalf("rep=%+v", rep)
	}
	for _, f := range rep.Failures {
		if !strings.Contains(f.Error, "deadline") {
			t.Fatalf("failure=%+v", f)
		}
	}
}
