package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hawon-Oh/NyamNyamPing/internal/commands"
	"github.com/Hawon-Oh/NyamNyamPing/internal/config"
	"github.com/Hawon-Oh/NyamNyamPing/internal/dispatch"
	"github.com/Hawon-Oh/NyamNyamPing/internal/holiday"
	"github.com/Hawon-Oh/NyamNyamPing/internal/locale"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	"github.com/Hawon-Oh/NyamNyamPing/internal/menu/kakao"
	"github.com/Hawon-Oh/NyamNyamPing/internal/observability/debug"
	"github.com/Hawon-Oh/NyamNyamPing/internal/schedule"
	"github.com/Hawon-Oh/NyamNyamPing/internal/storage"
	"github.com/Hawon-Oh/NyamNyamPing/internal/task/engine"
	"github.com/Hawon-Oh/NyamNyamPing/internal/tenant"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

// DefaultTimezone is the schedule zone when none is configured.
const DefaultTimezone = "Asia/Seoul"

// The mappers below assume cfg already passed config.Validate.

func Timezone(cfg *config.Config) string {
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

func Location(cfg *config.Config) *time.Location {
	loc, err := time.LoadLocation(Timezone(cfg))
	if err != nil {
		return time.Local
	}
	return loc
}

func Catalog(cfg *config.Config) locale.Catalog { return locale.Get(cfg.Locale) }

func LogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func StorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: config.MustDuration(cfg.Storage.BusyTimeout, time.Second),
	}
}

func TenantDefaults(cfg *config.Config) tenant.Defaults {
	d := tenant.DefaultDefaults
	if ch := strings.TrimSpace(cfg.TenantDefaults.Channel); ch != "" {
		d.Channel = ch
	}
	if cfg.TenantDefaults.HolidaySkip != nil {
		d.HolidaySkip = *cfg.TenantDefaults.HolidaySkip
	}
	d.SchedulerOn = cfg.TenantDefaults.SchedulerOn
	return d
}

func Restaurants(cfg *config.Config) []menu.Restaurant {
	out := make([]menu.Restaurant, 0, len(cfg.Restaurants))
	for _, r := range cfg.Restaurants {
		out = append(out, menu.Restaurant{Name: strings.TrimSpace(r.Name), URL: strings.TrimSpace(r.URL)})
	}
	return out
}

func FetcherConfig(cfg *config.Config) kakao.Config {
	return kakao.Config{
		Timeout:   config.MustDuration(cfg.Menu.FetchTimeout, kakao.DefaultTimeout),
		Workers:   cfg.Menu.FetchWorkers,
		Selector:  cfg.Menu.Selector,
		UserAgent: cfg.Menu.UserAgent,
	}
}

func CacheConfig(cfg *config.Config) menu.CacheConfig {
	return menu.CacheConfig{
		RefreshTimeout: config.MustDuration(cfg.Menu.RefreshTimeout, 30*time.Second),
		Placeholder:    Catalog(cfg).Placeholder,
	}
}

func EngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		HistorySize:    cfg.TaskEngine.HistorySize,
		DefaultTimeout: config.MustDuration(cfg.Schedule.JobTimeout, schedule.DefaultTimeout),
		MaxQueueDelay:  config.MustDuration(cfg.TaskEngine.MaxQueueDelay, 0),
	}
}

// SchedulePlan derives the job plan from the enabled meals.
func SchedulePlan(cfg *config.Config) (schedule.Plan, error) {
	p := schedule.Plan{
		Lead:    config.MustDuration(cfg.Schedule.PrefetchLead, schedule.DefaultLead),
		Window:  config.MustDuration(cfg.Schedule.ClearWindow, schedule.DefaultWindow),
		Days:    cfg.Schedule.Days,
		Timeout: config.MustDuration(cfg.Schedule.JobTimeout, schedule.DefaultTimeout),
	}
	for i, m := range cfg.Schedule.Meals {
		if !m.IsEnabled() {
			continue
		}
		if len(m.At) != 2 {
			return schedule.Plan{}, fmt.Errorf("schedule.meals[%d].at: want [hour, minute]", i)
		}
		p.Meals = append(p.Meals, schedule.Meal{Name: strings.TrimSpace(m.Name), At: schedule.ClockTime{Hour: m.At[0], Minute: m.At[1]}})
	}
	return p, nil
}

// dispatchConfigIn evaluates holidays in the zone the scheduler fires in.
func dispatchConfigIn(cfg *config.Config, sched interface{ Location() *time.Location }) dispatch.Config {
	c := DispatchConfig(cfg)
	c.Location = sched.Location()
	return c
}

func DispatchConfig(cfg *config.Config) dispatch.Config {
	c := Catalog(cfg)
	window := config.MustDuration(cfg.Schedule.ClearWindow, schedule.DefaultWindow)
	return dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		RatePerSec:     cfg.Dispatch.RatePerSec,
		SendTimeout:    config.MustDuration(cfg.Dispatch.SendTimeout, 10*time.Second),
		RefreshTimeout: config.MustDuration(cfg.Menu.RefreshTimeout, 30*time.Second),
		FreshFor:       config.MustDuration(cfg.Menu.FreshFor, window),
		Location:       Location(cfg),
		FallbackNote:   c.FallbackNote,
		Unavailable:    c.Unavailable,
	}
}

func HolidayConfig(cfg *config.Config) holiday.Config {
	return holiday.Config{
		Region:   cfg.Holidays.Region,
		Weekends: cfg.Holidays.Weekends,
		Dates:    append([]string(nil), cfg.Holidays.Dates...),
	}
}

func HelpInfo(cfg *config.Config) commands.HelpInfo {
	info := commands.HelpInfo{Restaurants: Restaurants(cfg)}
	for _, m := range cfg.Schedule.Meals {
		if !m.IsEnabled() || len(m.At) != 2 {
			continue
		}
		info.Meals = append(info.Meals, commands.MealTime{
			Name: m.Name,
			At:   schedule.ClockTime{Hour: m.At[0], Minute: m.At[1]}.String(),
		})
	}
	return info
}

func DebugConfig(cfg *config.Config) debug.Config {
	return debug.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
		ReadTimeout:   config.MustDuration(cfg.Debug.ReadTimeout, 10*time.Second),
		WriteTimeout:  config.MustDuration(cfg.Debug.WriteTimeout, 60*time.Second),
		IdleTimeout:   config.MustDuration(cfg.Debug.IdleTimeout, 60*time.Second),
	}
}
