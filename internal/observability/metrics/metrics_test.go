package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Hawon-Oh/NyamNyamPing/internal/commands"
	"github.com/Hawon-Oh/NyamNyamPing/internal/dispatch"
	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/task/engine"
)

func TestObserveCountsEvents(t *testing.T) {
	t.Parallel()
	m := New(func() int { return 3 })

	m.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Name: "lunch.dispatch", Duration: time.Second}})
	m.Observe(eventbus.Event{Type: eventbus.TaskFailed, Data: engine.TaskEvent{Name: "lunch.dispatch", Error: "boom"}})
	m.Observe(eventbus.Event{Type: eventbus.TaskSkipped, Data: engine.TaskEvent{Name: "lunch.prefetch", Error: "overlap_skip"}})
	m.Observe(eventbus.Event{Type: eventbus.MenuRefreshed, Data: menu.RefreshedEvent{Sources: 2, Failed: 1}})
	m.Observe(eventbus.Event{Type: eventbus.MenuRefreshed, Data: menu.RefreshedEvent{Sources: 2, Failed: 2}})
	m.Observe(eventbus.Event{Type: eventbus.DispatchFinished, Data: dispatch.Report{Sent: 3, Fallbacks: 1, SkippedOff: 2}})
	m.Observe(eventbus.Event{Type: eventbus.DispatchFinished, Data: dispatch.Report{Holiday: true, SkippedHoliday: 4}})
	m.Observe(eventbus.Event{Type: eventbus.CommandHandled, Data: commands.HandledEvent{Kind: commands.KindMenu, OK: true}})
	m.Observe(eventbus.Event{Type: eventbus.TenantJoined})
	m.Observe(eventbus.Event{Type: "unrelated", Data: 42})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"task ok", testutil.ToFloat64(m.tasks.WithLabelValues("lunch.dispatch", "ok")), 1},
		{"task failed", testutil.ToFloat64(m.tasks.WithLabelValues("lunch.dispatch", "failed")), 1},
		{"task skipped", testutil.ToFloat64(m.tasks.WithLabelValues("lunch.prefetch", "skipped")), 1},
		{"refresh partial", testutil.ToFloat64(m.refreshes.WithLabelValues("partial")), 1},
		{"refresh failed", testutil.ToFloat64(m.refreshes.WithLabelValues("failed")), 1},
		{"source failures", testutil.ToFloat64(m.sourceFails), 3},
		{"sent", testutil.ToFloat64(m.deliveries.WithLabelValues("sent")), 3},
		{"holiday skips", testutil.ToFloat64(m.deliveries.WithLabelValues("skipped_holiday")), 4},
		{"holiday cycle", testutil.ToFloat64(m.cycles.WithLabelValues("holiday")), 1},
		{"command", testutil.ToFloat64(m.commands.WithLabelValues("menu", "ok")), 1},
		{"joined", testutil.ToFloat64(m.tenantEvents.WithLabelValues("joined")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, c.got, c.want)
		}
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	t.Parallel()
	m := New(func() int { return 7 })
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("status=%d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, "nyamnyam_tenants 7") {
		t.Fatalf("tenant gauge missing:\n%s", body)
	}
}
