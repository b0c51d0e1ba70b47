package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/schedule"
	"github.com/Hawon-Oh/NyamNyamPing/internal/tenant"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

type fakeJobs struct {
	paused map[string]bool
}

func (f *fakeJobs) Jobs() []schedule.JobInfo {
	return []schedule.JobInfo{{Job: schedule.Job{ID: "lunch.dispatch", Kind: schedule.KindDispatch, Meal: "lunch"}, Enabled: !f.paused["lunch.dispatch"]}}
}

func (f *fakeJobs) set(id string, paused bool) error {
	if id != "lunch.dispatch" {
		return fmt.Errorf("%w: %s", schedule.ErrUnknownJob, id)
	}
	f.paused[id] = paused
	return nil
}

func (f *fakeJobs) Pause(id string) error  { return f.set(id, true) }
func (f *fakeJobs) Resume(id string) error { return f.set(id, false) }

func newTestService(jobs *fakeJobs) *Service {
	return New(Config{}, Sources{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m 1\n")) }),
		Jobs:    jobs,
		Tenants: func() []tenant.Config { return []tenant.Config{{TenantID: "g1", Channel: "general"}} },
	}, logx.Nop())
}

func TestRouterRoutes(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{paused: map[string]bool{}}
	h := newTestService(jobs).Router("")

	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/jobs", http.StatusOK},
		{http.MethodGet, "/tenants", http.StatusOK},
		{http.MethodPost, "/jobs/lunch.dispatch/pause", http.StatusOK},
		{http.MethodPost, "/jobs/nope/pause", http.StatusNotFound},
		{http.MethodGet, "/tasks", http.StatusNotFound},
		{http.MethodGet, "/debug/pprof/", http.StatusOK},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
		if rr.Code != tt.status {
			t.Fatalf("%s %s: status=%d want %d", tt.method, tt.path, rr.Code, tt.status)
		}
	}
	if !jobs.paused["lunch.dispatch"] {
		t.Fatalf("pause not applied")
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	var got []struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(got) != 1 || got[0].ID != "lunch.dispatch" || got[0].Enabled {
		t.Fatalf("jobs=%+v", got)
	}
}

func TestRouterAuth(t *testing.T) {
	t.Parallel()
	h := newTestService(&fakeJobs{paused: map[string]bool{}}).Router("s3cret")

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing", "/healthz", "", http.StatusUnauthorized},
		{"bad query", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"query", "/healthz?token=s3cret", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer s3cret", http.StatusOK},
		{"bad bearer", "/healthz", "Bearer no", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tt.status {
			t.Fatalf("%s: status=%d want %d", tt.name, rr.Code, tt.status)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"bad":            false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

func TestServiceStartStop(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeJobs{paused: map[string]bool{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = s.Addr()
	}
	if addr == "" {
		t.Fatalf("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body=%q", body)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer scancel()
	s.Reconfigure(sctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("addr still set after stop")
	}
}

func TestServiceRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := newTestService(&fakeJobs{paused: map[string]bool{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "0.0.0.0:0"})
	time.Sleep(100 * time.Millisecond)
	if s.Addr() != "" {
		t.Fatalf("server bound to %s without token", s.Addr())
	}
	s.Stop(ctx)
}
