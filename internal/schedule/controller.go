// Package schedule derives the per-meal prefetch, dispatch and clear jobs and
// keeps them registered on the cron scheduler.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/task/scheduler"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

var ErrUnknownJob = errors.New("schedule: unknown job")

// Actions are the job bodies. They run on task engine workers.
type Actions interface {
	Prefetch(ctx context.Context, meal string) error
	Dispatch(ctx context.Context, meal string) error
	Clear(ctx context.Context, meal string) error
}

// Scheduler is the subset of *scheduler.Service used here.
type Scheduler interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error
	Remove(name string) bool
	Pause(name string) error
	Resume(name string) error
	Snapshot() scheduler.Snapshot
}

// JobInfo is a job with its live scheduler state.
type JobInfo struct {
	Job
	Enabled bool      `json:"enabled"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
}

type Controller struct {
	sched   Scheduler
	actions Actions
	log     logx.Logger

	mu    sync.Mutex
	jobs  map[string]Job
	order []string
}

func NewController(sched Scheduler, actions Actions, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{sched: sched, actions: actions, log: log, jobs: map[string]Job{}}
}

// Start registers the plan and starts the scheduler.
func (c *Controller) Start(ctx context.Context, plan Plan) error {
	if err := c.Reschedule(plan); err != nil {
		return err
	}
	c.sched.Start(ctx)
	return nil
}

func (c *Controller) Stop(ctx context.Context) {
	c.sched.Stop(ctx)
}

// Reschedule replaces the job set. Surviving ids keep their paused state.
// An invalid plan leaves the current jobs untouched.
func (c *Controller) Reschedule(plan Plan) error {
	jobs, err := plan.Jobs()
	if err != nil {
		return err
	}
	timeout := plan.withDefaults().Timeout

	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]Job, len(jobs))
	order := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if err := c.sched.AddCron(j.ID, j.Spec, timeout, c.body(j)); err != nil {
			return fmt.Errorf("schedule %s: %w", j.ID, err)
		}
		next[j.ID] = j
		order = append(order, j.ID)
	}
	for id := range c.jobs {
		if _, ok := next[id]; !ok {
			c.sched.Remove(id)
		}
	}
	c.jobs, c.order = next, order
	for _, j := range jobs {
		c.log.Debug("job scheduled", logx.String("job", j.ID), logx.String("at", j.At.String()), logx.String("spec", j.Spec))
	}
	c.log.Info("schedule applied", logx.Int("jobs", len(jobs)))
	return nil
}

func (c *Controller) body(j Job) func(ctx context.Context) error {
	meal := j.Meal
	switch j.Kind {
	case KindPrefetch:
		return func(ctx context.Context) error { return c.actions.Prefetch(ctx, meal) }
	case KindDispatch:
		return func(ctx context.Context) error { return c.actions.Dispatch(ctx, meal) }
	default:
		return func(ctx context.Context) error { return c.actions.Clear(ctx, meal) }
	}
}

func (c *Controller) Pause(id string) error {
	if !c.known(id) {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if err := c.sched.Pause(id); err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownJob, err)
	}
	c.log.Info("job paused", logx.String("job", id))
	return nil
}

func (c *Controller) Resume(id string) error {
	if !c.known(id) {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if err := c.sched.Resume(id); err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownJob, err)
	}
	c.log.Info("job resumed", logx.String("job", id))
	return nil
}

func (c *Controller) known(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[id]
	return ok
}

// Jobs lists the registered jobs in plan order.
func (c *Controller) Jobs() []JobInfo {
	c.mu.Lock()
	jobs := make([]Job, 0, len(c.order))
	for _, id := range c.order {
		jobs = append(jobs, c.jobs[id])
	}
	c.mu.Unlock()

	live := map[string]scheduler.ScheduleInfo{}
	for _, s := range c.sched.Snapshot().Schedules {
		live[s.Name] = s
	}
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		s := live[j.ID]
		out = append(out, JobInfo{Job: j, Enabled: !s.Paused, Next: s.Next, Prev: s.Prev})
	}
	return out
}
