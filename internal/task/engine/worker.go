package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/eventbus"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	if qt.state != nil {
		defer qt.state.release()
	}
	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	t := qt.task
	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.dropped.Add(1)
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskSkipped, Time: start, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}})
		s.record(cfg, HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		s.log.Warn("task dropped: stale queue", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay))
		return
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Time: start, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay}})
	s.log.Debug("task started", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay))

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		return t.Run(runCtx)
	}()
	cancel()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, Duration: dur, QueueDelay: queueDelay}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: ev})
	} else {
		s.log.Info("task completed", logx.String("task", t.Name), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Data: ev})
	}
	s.record(cfg, item)
}
