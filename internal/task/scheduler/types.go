package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Hawon-Oh/NyamNyamPing/internal/task/engine"
)

var ErrUnknownSchedule = errors.New("scheduler: unknown schedule")

type Config struct {
	Timezone string // IANA name, e.g. "Asia/Seoul"; empty means Local
}

// Enqueuer receives one task per cron tick.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	paused  bool
	entryID cron.EntryID
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Paused  bool          `json:"paused"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
