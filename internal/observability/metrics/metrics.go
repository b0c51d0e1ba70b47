// Package metrics turns bus events into Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hawon-Oh/NyamNyamPing/internal/commands"
	"github.com/Hawon-Oh/NyamNyamPing/internal/dispatch"
	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/task/engine"
)

const namespace = "nyamnyam"

type Metrics struct {
	reg *prometheus.Registry

	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	refreshes    *prometheus.CounterVec
	sourceFails  prometheus.Counter
	clears       prometheus.Counter
	deliveries   *prometheus.CounterVec
	cycles       *prometheus.CounterVec
	commands     *prometheus.CounterVec
	tenantEvents *prometheus.CounterVec
}

// New builds a private registry with the Go and process collectors.
// tenants, when set, backs the tenant count gauge.
func New(tenants func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "tenants",
		Help: "Tenants currently in the registry.",
	}, func() float64 {
		if tenants == nil {
			return 0
		}
		return float64(tenants())
	})

	return &Metrics{
		reg: reg,
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_total",
			Help: "Scheduled task runs by task name and result.",
		}, []string{"task", "result"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Duration of finished task runs.",
			Buckets: []float64{.05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"task"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "menu_refreshes_total",
			Help: "Menu refreshes by result (ok, partial, failed).",
		}, []string{"result"}),
		sourceFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "menu_source_failures_total",
			Help: "Restaurant pages that could not be fetched.",
		}),
		clears: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "menu_clears_total",
			Help: "Menu cache clears that dropped a snapshot.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Per-tenant broadcast outcomes.",
		}, []string{"outcome"}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_cycles_total",
			Help: "Broadcast cycles by kind (normal, holiday, no_menu).",
		}, []string{"kind"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Handled chat commands by command and result.",
		}, []string{"command", "result"}),
		tenantEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tenant_events_total",
			Help: "Tenant registry changes by type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run observes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TaskFinished, eventbus.TaskFailed, eventbus.TaskSkipped:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		result := "ok"
		switch e.Type {
		case eventbus.TaskFailed:
			result = "failed"
		case eventbus.TaskSkipped:
			result = "skipped"
		}
		m.tasks.WithLabelValues(ev.Name, result).Inc()
		if e.Type != eventbus.TaskSkipped {
			m.taskDuration.WithLabelValues(ev.Name).Observe(ev.Duration.Seconds())
		}

	case eventbus.MenuRefreshed:
		ev, ok := e.Data.(menu.RefreshedEvent)
		if !ok {
			return
		}
		result := "ok"
		switch {
		case ev.Failed > 0 && ev.Failed >= ev.Sources:
			result = "failed"
		case ev.Failed > 0:
			result = "partial"
		}
		m.refreshes.WithLabelValues(result).Inc()
		m.sourceFails.Add(float64(ev.Failed))

	case eventbus.MenuCleared:
		m.clears.Inc()

	case eventbus.DispatchFinished:
		rep, ok := e.Data.(dispatch.Report)
		if !ok {
			return
		}
		kind := "normal"
		switch {
		case rep.NoMenu:
			kind = "no_menu"
		case rep.Holiday:
			kind = "holiday"
		}
		m.cycles.WithLabelValues(kind).Inc()
		m.deliveries.WithLabelValues("sent").Add(float64(rep.Sent))
		m.deliveries.WithLabelValues("fallback").Add(float64(rep.Fallbacks))
		m.deliveries.WithLabelValues("skipped_off").Add(float64(rep.SkippedOff))
		m.deliveries.WithLabelValues("skipped_holiday").Add(float64(rep.SkippedHoliday))
		m.deliveries.WithLabelValues("no_channel").Add(float64(rep.NoChannel))
		m.deliveries.WithLabelValues("failed").Add(float64(rep.Failed))
		m.deliveries.WithLabelValues("cut_short").Add(float64(rep.CutShort))

	case eventbus.CommandHandled:
		ev, ok := e.Data.(commands.HandledEvent)
		if !ok {
			return
		}
		result := "ok"
		if !ev.OK {
			result = "failed"
		}
		m.commands.WithLabelValues(string(ev.Kind), result).Inc()

	case eventbus.TenantJoined:
		m.tenantEvents.WithLabelValues("joined").Inc()
	case eventbus.TenantLeft:
		m.tenantEvents.WithLabelValues("left").Inc()
	case eventbus.TenantChanged:
		m.tenantEvents.WithLabelValues("changed").Inc()
	}
}
