package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/task/scheduler"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

type recordingActions struct {
	mu    sync.Mutex
	calls []string
}

func (a *recordingActions) add(s string) error {
	a.mu.Lock()
	a.calls = append(a.calls, s)
	a.mu.Unlock()
	return nil
}
func (a *recordingActions) Prefetch(_ context.Context, m string) error { return a.add("prefetch:" + m) }
func (a *recordingActions) Dispatch(_ context.Context, m string) error { return a.add("dispatch:" + m) }
func (a *recordingActions) Clear(_ context.Context, m string) error    { return a.add("clear:" + m) }

// fakeSched keeps definitions in memory.
type fakeSched struct {
	mu     sync.Mutex
	specs  map[string]string
	jobs   map[string]func(context.Context) error
	paused map[string]bool
}

func newFakeSched() *fakeSched {
	return &fakeSched{specs: map[string]string{}, jobs: map[string]func(context.Context) error{}, paused: map[string]bool{}}
}

func (f *fakeSched) Start(context.Context) {}
func (f *fakeSched) Stop(context.Context)  {}
func (f *fakeSched) AddCron(name, spec string, _ time.Duration, job func(context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs[name], f.jobs[name] = spec, job
	return nil
}
func (f *fakeSched) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.specs[name]
	delete(f.specs, name)
	delete(f.jobs, name)
	delete(f.paused, name)
	return ok
}
func (f *fakeSched) Pause(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.specs[name]; !ok {
		return scheduler.ErrUnknownSchedule
	}
	f.paused[name] = true
	return nil
}
func (f *fakeSched) Resume(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.specs[name]; !ok {
		return scheduler.ErrUnknownSchedule
	}
	delete(f.paused, name)
	return nil
}
func (f *fakeSched) Snapshot() scheduler.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s scheduler.Snapshot
	for n, spec := range f.specs {
		s.Schedules = append(s.Schedules, scheduler.ScheduleInfo{Name: n, Spec: spec, Paused: f.paused[n]})
	}
	return s
}

func lunchPlan() Plan {
	return Plan{Meals: []Meal{{Name: "lunch", At: ClockTime{11, 30}}}}
}

func TestControllerJobsRunActions(t *testing.T) {
	t.Parallel()

	fs := newFakeSched()
	acts := &recordingActions{}
	c := NewController(fs, acts, logx.Nop())
	if err := c.Start(context.Background(), lunchPlan()); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"lunch.prefetch", "lunch.dispatch", "lunch.clear"} {
		if err := fs.jobs[id](context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"prefetch:lunch", "dispatch:lunch", "clear:lunch"}
	for i := range want {
		if acts.calls[i] != want[i] {
			t.Fatalf("calls=%v", acts.calls)
		}
	}
	jobs := c.Jobs()
	if len(jobs) != 3 || jobs[0].ID != "lunch.prefetch" || jobs[2].ID != "lunch.clear" || !jobs[1].Enabled {
		t.Fatalf("jobs=%+v", jobs)
	}
}

func TestControllerPauseUnknown(t *testing.T) {
	t.Parallel()

	c := NewController(newFakeSched(), &recordingActions{}, logx.Nop())
	if err := c.Pause("lunch.dispatch"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("before start err=%v", err)
	}
	if err := c.Start(context.Background(), lunchPlan()); err != nil {
		t.Fatal(err)
	}
	if err := c.Resume("brunch.dispatch"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err=%v", err)
	}
	if err := c.Pause("lunch.dispatch"); err != nil {
		t.Fatal(err)
	}
	if c.Jobs()[1].Enabled {
		t.Fatalf("paused job reported enabled")
	}
	if err := c.Resume("lunch.dispatch"); err != nil {
		t.Fatal(err)
	}
}

func TestRescheduleDropsRemovedMeals(t *testing.T) {
	t.Parallel()

	fs := newFakeSched()
	c := NewController(fs, &recordingActions{}, logx.Nop())
	two := Plan{Meals: []Meal{{Name: "lunch", At: ClockTime{11, 30}}, {Name: "dinner", At: ClockTime{17, 30}}}}
	if err := c.Start(context.Background(), two); err != nil {
		t.Fatal(err)
	}
	one := Plan{Meals: []Meal{{Name: "lunch", At: ClockTime{12, 0}}}}
	if err := c.Reschedule(one); err != nil {
		t.Fatal(err)
	}
	if _, ok := fs.specs["dinner.dispatch"]; ok {
		t.Fatalf("dinner jobs not removed")
	}
	if fs.specs["lunch.dispatch"] != "0 12 * * *" {
		t.Fatalf("lunch spec=%q", fs.specs["lunch.dispatch"])
	}
	if err := c.Reschedule(Plan{}); err == nil {
		t.Fatalf("expected error for empty plan")
	}
	if len(c.Jobs()) != 3 {
		t.Fatalf("invalid plan changed jobs: %+v", c.Jobs())
	}
}

// The real scheduler keeps a paused job paused across Reschedule.
func TestReschedulePreservesPausedWithScheduler(t *testing.T) {
	t.Parallel()

	s := scheduler.New(scheduler.Config{Timezone: "UTC"}, nil, logx.Nop())
	c := NewController(s, &recordingActions{}, logx.Nop())
	ctx := context.Background()
	if err := c.Start(ctx, lunchPlan()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx)
	if err := c.Pause("lunch.clear"); err != nil {
		t.Fatal(err)
	}
	if err := c.Reschedule(Plan{Meals: []Meal{{Name: "lunch", At: ClockTime{12, 15}}}}); err != nil {
		t.Fatal(err)
	}
	for _, j := range c.Jobs() {
		if j.ID == "lunch.clear" && j.Enabled {
			t.Fatalf("lunch.clear lost its paused state")
		}
		if j.ID == "lunch.dispatch" && (j.Next.IsZero() || j.Next.Minute() != 15) {
			t.Fatalf("dispatch next=%s", j.Next)
		}
	}
}
