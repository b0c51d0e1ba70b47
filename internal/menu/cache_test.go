package menu

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

type fakeFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	fail    map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, sources []Restaurant) []Result {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	out := make([]Result, len(sources))
	for i, s := range sources {
		out[i] = Result{Name: s.Name}
		if err := f.fail[s.Name]; err != nil {
			out[i].Err = err
			continue
		}
		out[i].URL = s.URL + "/img.jpg"
	}
	return out
}

var testSources = []Restaurant{
	{Name: "한식뷔페", URL: "https://pf.kakao.com/a"},
	{Name: "분식", URL: "https://pf.kakao.com/b"},
	{Name: "중식", URL: "https://pf.kakao.com/c"},
}

func TestFormatOneLinePerSourceInOrder(t *testing.T) {
	t.Parallel()

	res := []Result{
		{Name: "a", URL: "u1"},
		{Name: "b", Err: ErrFetchTimeout},
		{Name: "c", URL: "u3"},
	}
	got := Format(res, nil)
	want := "a: u1\nb URL주소에 접속할 수 없습니다.\nc: u3\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{release: make(chan struct{})}
	c := NewCache(f, testSources, CacheConfig{}, logx.Nop(), nil)

	const n = 16
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		errs    atomic.Int32
	)
	started.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			if _, err := c.Refresh(context.Background()); err != nil {
				errs.Add(1)
			}
		}()
	}
	started.Wait()
	// Let every caller reach the single-flight group before releasing.
	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("fetcher calls=%d want 1", got)
	}
	if errs.Load() != 0 {
		t.Fatalf("refresh errors=%d", errs.Load())
	}
	if lines := strings.Count(c.Snapshot().Text, "\n"); lines != len(testSources) {
		t.Fatalf("lines=%d", lines)
	}
}

func TestRefreshFailedSourceKeepsBatch(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fail: map[string]error{"분식": ErrFetch}}
	c := NewCache(f, testSources, CacheConfig{Placeholder: func(n string) string { return n + " unreachable" }}, logx.Nop(), nil)
	snap, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(snap.Text, "\n"), "\n")
	if len(lines) != 3 || lines[1] != "분식 unreachable" || !strings.HasPrefix(lines[2], "중식: ") {
		t.Fatalf("lines=%q", lines)
	}
}

func TestGetClearFresh(t *testing.T) {
	t.Parallel()

	c := NewCache(&fakeFetcher{}, testSources, CacheConfig{}, logx.Nop(), nil)
	if _, err := c.Get(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("empty Get err=%v", err)
	}
	if _, ok := c.Fresh(time.Hour); ok {
		t.Fatalf("empty cache reported fresh")
	}

	now := time.Date(2026, 3, 2, 11, 29, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(); err != nil {
		t.Fatal(err)
	}
	now = now.Add(3 * time.Hour)
	if _, ok := c.Fresh(2 * time.Hour); ok {
		t.Fatalf("stale snapshot reported fresh")
	}
	if _, ok := c.Fresh(0); !ok {
		t.Fatalf("maxAge 0 should accept any snapshot")
	}

	c.Clear()
	c.Clear()
	s := c.Snapshot()
	if !s.IsEmpty() || !s.FetchedAt.IsZero() {
		t.Fatalf("snapshot after clear=%+v", s)
	}
}

func TestRefreshNoSources(t *testing.T) {
	t.Parallel()

	c := NewCache(&fakeFetcher{}, nil, CacheConfig{}, logx.Nop(), nil)
	if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrNoSources) {
		t.Fatalf("err=%v", err)
	}
}

func TestRefreshWaiterGivesUp(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{release: make(chan struct{})}
	c := NewCache(f, testSources, CacheConfig{}, logx.Nop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Refresh(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	// The shared fetch is not cancelled with the waiter.
	close(f.release)
	deadline := time.Now().Add(2 * time.Second)
	for c.Snapshot().IsEmpty() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Snapshot().IsEmpty() {
		t.Fatalf("shared fetch did not complete")
	}
}

func TestClearDuringRefreshWins(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{release: make(chan struct{})}
	c := NewCache(f, testSources, CacheConfig{}, logx.Nop(), nil)

	done := make(chan Snapshot, 1)
	go func() {
		snap, err := c.Refresh(context.Background())
		if err != nil {
			t.Errorf("Refresh: %v", err)
		}
		done <- snap
	}()
	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Clear()
	close(f.release)

	if snap := <-done; snap.IsEmpty() {
		t.Fatalf("caller should still get the fetched snapshot")
	}
	if !c.Snapshot().IsEmpty() {
		t.Fatalf("stale refresh repopulated a cleared cache")
	}

	// The next refresh stores normally.
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Snapshot().IsEmpty() {
		t.Fatalf("refresh after clear did not store")
	}
}
