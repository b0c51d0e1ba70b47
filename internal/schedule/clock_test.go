package schedule

import (
	"testing"
	"time"
)

func TestPrefetchTime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		at   ClockTime
		lead time.Duration
		want ClockTime
	}{
		{ClockTime{12, 0}, time.Minute, ClockTime{11, 59}},
		{ClockTime{11, 30}, time.Minute, ClockTime{11, 29}},
		{ClockTime{0, 0}, time.Minute, ClockTime{23, 59}},
		{ClockTime{17, 5}, 10 * time.Minute, ClockTime{16, 55}},
		{ClockTime{0, 30}, 90 * time.Minute, ClockTime{23, 0}},
		{ClockTime{12, 0}, 90 * time.Second, ClockTime{11, 59}},
	}
	for _, tc := range cases {
		if got := PrefetchTime(tc.at, tc.lead); got != tc.want {
			t.Fatalf("PrefetchTime(%s, %s)=%s want %s", tc.at, tc.lead, got, tc.want)
		}
	}
}

func TestClearTime(t *testing.T) {
	t.Parallel()

	cases := []struct {
		at     ClockTime
		window time.Duration
		want   ClockTime
	}{
		{ClockTime{12, 0}, 2 * time.Hour, ClockTime{14, 0}},
		{ClockTime{17, 30}, 2 * time.Hour, ClockTime{19, 30}},
		{ClockTime{23, 0}, 2 * time.Hour, ClockTime{24, 0}},
		{ClockTime{22, 0}, 2 * time.Hour, ClockTime{24, 0}},
		{ClockTime{21, 59}, 2 * time.Hour, ClockTime{23, 59}},
	}
	for _, tc := range cases {
		if got := ClearTime(tc.at, tc.window); got != tc.want {
			t.Fatalf("ClearTime(%s, %s)=%s want %s", tc.at, tc.window, got, tc.want)
		}
	}
}

func TestCronSpec(t *testing.T) {
	t.Parallel()

	if got := cronSpec(ClockTime{11, 29}, "mon-fri"); got != "29 11 * * mon-fri" {
		t.Fatalf("got %q", got)
	}
	if got := cronSpec(ClockTime{24, 0}, ""); got != "0 0 * * *" {
		t.Fatalf("got %q", got)
	}
}

func TestPlanJobs(t *testing.T) {
	t.Parallel()

	p := Plan{Meals: []Meal{{Name: "lunch", At: ClockTime{12, 0}}, {Name: "dinner", At: ClockTime{23, 0}}}, Days: "mon-fri"}
	jobs, err := p.Jobs()
	if err != nil {
		t.Fatal(err)
	}
	want := []Job{
		{ID: "lunch.prefetch", Kind: KindPrefetch, Meal: "lunch", At: ClockTime{11, 59}, Spec: "59 11 * * mon-fri"},
		{ID: "lunch.dispatch", Kind: KindDispatch, Meal: "lunch", At: ClockTime{12, 0}, Spec: "0 12 * * mon-fri"},
		{ID: "lunch.clear", Kind: KindClear, Meal: "lunch", At: ClockTime{14, 0}, Spec: "0 14 * * *"},
		{ID: "dinner.prefetch", Kind: KindPrefetch, Meal: "dinner", At: ClockTime{22, 59}, Spec: "59 22 * * mon-fri"},
		{ID: "dinner.dispatch", Kind: KindDispatch, Meal: "dinner", At: ClockTime{23, 0}, Spec: "0 23 * * mon-fri"},
		{ID: "dinner.clear", Kind: KindClear, Meal: "dinner", At: ClockTime{24, 0}, Spec: "0 0 * * *"},
	}
	if len(jobs) != len(want) {
		t.Fatalf("jobs=%d", len(jobs))
	}
	for i := range want {
		if jobs[i] != want[i] {
			t.Fatalf("job %d=%+v want %+v", i, jobs[i], want[i])
		}
	}

	bad := []Plan{
		{},
		{Meals: []Meal{{Name: "a", At: ClockTime{24, 0}}}},
		{Meals: []Meal{{Name: "a", At: ClockTime{1, 0}}, {Name: "a", At: ClockTime{2, 0}}}},
		{Meals: []Meal{{Name: " ", At: ClockTime{1, 0}}}},
	}
	for i, p := range bad {
		if _, err := p.Jobs(); err == nil {
			t.Fatalf("plan %d: expected error", i)
		}
	}
}
