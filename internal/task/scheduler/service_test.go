package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/task/engine"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	names []string
	ch    chan string
}

func newFakeEnqueuer() *fakeEnqueuer { return &fakeEnqueuer{ch: make(chan string, 16)} }

func (f *fakeEnqueuer) Enqueue(t engine.Task) error {
	f.mu.Lock()
	f.names = append(f.names, t.Name)
	f.mu.Unlock()
	if !t.SkipIfRunning {
		return errors.New("scheduled tasks must skip overlaps")
	}
	select {
	case f.ch <- t.Name:
	default:
	}
	return nil
}

func noop(context.Context) error { return nil }

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "Asia/Seoul"}, newFakeEnqueuer(), logx.Nop())
	cases := []struct {
		name, spec string
	}{
		{"too many fields", "1 2 3 4 5 6 7"},
		{"garbage", "at noon"},
		{"bad minute", "61 12 * * *"},
	}
	for _, tc := range cases {
		if err := s.AddCron("x", tc.spec, 0, noop); err == nil {
			t.Fatalf("%s: expected error for %q", tc.name, tc.spec)
		}
	}
	if err := s.AddCron("", "0 12 * * *", 0, noop); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestTickEnqueuesAndPauseStops(t *testing.T) {
	t.Parallel()

	f := newFakeEnqueuer()
	s := New(Config{}, f, logx.Nop())
	if err := s.AddCron("tick", "* * * * * *", time.Second, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case name := <-f.ch:
		if name != "tick" {
			t.Fatalf("enqueued %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("schedule never fired")
	}

	if err := s.Pause("tick"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || !snap.Schedules[0].Paused || !snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot=%+v", snap)
	}
	if err := s.Resume("tick"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if snap := s.Snapshot(); snap.Schedules[0].Paused || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("after resume=%+v", snap.Schedules[0])
	}
}

func TestPauseUnknown(t *testing.T) {
	t.Parallel()

	s := New(Config{}, newFakeEnqueuer(), logx.Nop())
	if err := s.Pause("nope"); !errors.Is(err, ErrUnknownSchedule) {
		t.Fatalf("Pause err=%v", err)
	}
	if err := s.Resume("nope"); !errors.Is(err, ErrUnknownSchedule) {
		t.Fatalf("Resume err=%v", err)
	}
	if s.Remove("nope") {
		t.Fatalf("Remove reported success")
	}
}

func TestReplaceKeepsPaused(t *testing.T) {
	t.Parallel()

	s := New(Config{}, newFakeEnqueuer(), logx.Nop())
	_ = s.AddCron("lunch.dispatch", "0 12 * * *", 0, noop)
	_ = s.Pause("lunch.dispatch")
	_ = s.AddCron("lunch.dispatch", "30 12 * * *", 0, noop)

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || !snap.Schedules[0].Paused || snap.Schedules[0].Spec != "30 12 * * *" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestNextRunsInZone(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	from := time.Date(2026, 3, 2, 12, 30, 0, 0, loc)
	got, err := NextRuns("CRON_TZ=Asia/Seoul 0 12 * * *", from, 2)
	if err != nil {
		t.Fatalf("NextRuns: %v", err)
	}
	want := time.Date(2026, 3, 3, 12, 0, 0, 0, loc)
	if len(got) != 2 || !got[0].Equal(want) {
		t.Fatalf("got %v want first %v", got, want)
	}
}
