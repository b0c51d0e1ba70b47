package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLead    = time.Minute
	DefaultWindow  = 2 * time.Hour
	DefaultTimeout = 2 * time.Minute
)

type Kind string

const (
	KindPrefetch Kind = "prefetch"
	KindDispatch Kind = "dispatch"
	KindClear    Kind = "clear"
)

// Meal is one notification slot.
type Meal struct {
	Name string
	At   ClockTime
}

// Plan is the full job set input. Days restricts prefetch and dispatch;
// clear jobs fire every day.
type Plan struct {
	Meals   []Meal
	Lead    time.Duration
	Window  time.Duration
	Days    string
	Timeout time.Duration
}

// Job is one derived cron job. ID is "<meal>.<kind>".
type Job struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	Meal string    `json:"meal"`
	At   ClockTime `json:"at"`
	Spec string    `json:"spec"`
}

func (p Plan) withDefaults() Plan {
	if p.Lead <= 0 {
		p.Lead = DefaultLead
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	p.Days = strings.TrimSpace(p.Days)
	if p.Days == "" {
		p.Days = "*"
	}
	return p
}

// Jobs derives prefetch, dispatch and clear jobs for every meal, in meal order.
func (p Plan) Jobs() ([]Job, error) {
	p = p.withDefaults()
	if len(p.Meals) == 0 {
		return nil, errors.New("schedule: no meals")
	}
	seen := map[string]bool{}
	out := make([]Job, 0, 3*len(p.Meals))
	for _, m := range p.Meals {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, errors.New("schedule: meal name required")
		}
		if seen[name] {
			return nil, fmt.Errorf("schedule: duplicate meal %q", name)
		}
		seen[name] = true
		if !m.At.Valid() {
			return nil, fmt.Errorf("schedule: meal %s: invalid time %s", name, m.At)
		}
		pre := PrefetchTime(m.At, p.Lead)
		clr := ClearTime(m.At, p.Window)
		out = append(out,
			Job{ID: JobID(name, KindPrefetch), Kind: KindPrefetch, Meal: name, At: pre, Spec: cronSpec(pre, p.Days)},
			Job{ID: JobID(name, KindDispatch), Kind: KindDispatch, Meal: name, At: m.At, Spec: cronSpec(m.At, p.Days)},
			Job{ID: JobID(name, KindClear), Kind: KindClear, Meal: name, At: clr, Spec: cronSpec(clr, "*")},
		)
	}
	return out, nil
}

func JobID(meal string, k Kind) string { return meal + "." + string(k) }
