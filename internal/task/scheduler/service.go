package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Hawon-Oh/NyamNyamPing/internal/task/engine"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// Parser accepts 5-field specs, an optional leading seconds field and
// descriptors such as @daily.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	engine Enqueuer

	c    *cron.Cron
	defs map[string]*scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, eng Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		engine:      eng,
		defs:        map[string]*scheduleDef{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocation(cfg.Timezone)
	return s
}

// Location is the zone cron specs are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply switches the time zone, restarting cron if it is running.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if !changed {
		return
	}
	s.loc = s.loadLocation(cfg.Timezone)
	if s.c != nil {
		s.restartLocked()
	}
}

// Start begins triggering every registered, unpaused schedule.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(Parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering. Definitions survive for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped")
}

// AddCron registers (or replaces) the schedule called name. A replaced
// schedule keeps its paused flag.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("schedule name required")
	}
	if job == nil {
		return errors.New("schedule job required")
	}
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	paused := false
	if old, ok := s.defs[name]; ok {
		paused = old.paused
		s.unregisterLocked(old)
	}
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job, paused: paused}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Bool("paused", paused))
	return nil
}

// Remove drops the schedule. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	s.unregisterLocked(d)
	delete(s.defs, name)
	return true
}

// Pause stops a schedule from firing without dropping it.
func (s *Service) Pause(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	d.paused = true
	s.unregisterLocked(d)
	return nil
}

func (s *Service) Resume(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	if !d.paused {
		return nil
	}
	d.paused = false
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Running: s.c != nil, Timezone: s.loc.String()}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Paused: d.paused}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}

// NextRuns previews the next n trigger times of spec after from.
func NextRuns(spec string, from time.Time, n int) ([]time.Time, error) {
	sched, err := Parser.Parse(spec)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) registerLocked(d *scheduleDef) {
	if d.paused || d.entryID != 0 {
		return
	}
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:          d.name,
			Timeout:       d.timeout,
			Run:           d.job,
			SkipIfRunning: true,
		})
		if err != nil {
			s.reportEnqueueError(d.name, err)
		}
	})
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
}

func (s *Service) unregisterLocked(d *scheduleDef) {
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.c = cron.New(cron.WithParser(Parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		d.entryID = 0
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
