package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/robfig/cron/v3"

	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

// Validate checks everything that can be checked without the network.
// All problems are reported at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.Driver)) {
	case "discord", "telegram":
	default:
		add("gateway.driver: unknown driver %q (want discord or telegram)", cfg.Gateway.Driver)
	}
	if strings.TrimSpace(cfg.Gateway.Token) == "" {
		add("gateway.token: required")
	}
	dur("gateway.poll_timeout", cfg.Gateway.PollTimeout)
	dur("gateway.ready_timeout", cfg.Gateway.ReadyTimeout)

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if !logx.ValidLevel(cfg.Logging.Chat.MinLevel) {
		add("logging.chat.min_level: unknown level %q", cfg.Logging.Chat.MinLevel)
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.ChannelID) == "" {
		add("logging.chat.channel_id: required when chat logging is enabled")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Locale)) {
	case "", "ko", "en":
	default:
		add("locale: unsupported %q", cfg.Locale)
	}

	for i, r := range cfg.Restaurants {
		if strings.TrimSpace(r.Name) == "" {
			add("restaurants[%d].name: required", i)
		}
		u, err := url.Parse(strings.TrimSpace(r.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("restaurants[%d].url: want an absolute http(s) URL, got %q", i, r.URL)
		}
	}

	dur("menu.fetch_timeout", cfg.Menu.FetchTimeout)
	dur("menu.refresh_timeout", cfg.Menu.RefreshTimeout)
	dur("menu.fresh_for", cfg.Menu.FreshFor)
	if cfg.Menu.FetchWorkers < 0 {
		add("menu.fetch_workers: must be >= 0")
	}

	errs = append(errs, validateSchedule(cfg.Schedule)...)

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		add("task_engine: sizes must be >= 0")
	}
	dur("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay)

	if cfg.Dispatch.Workers < 0 || cfg.Dispatch.RatePerSec < 0 {
		add("dispatch: workers and rate_per_sec must be >= 0")
	}
	dur("dispatch.send_timeout", cfg.Dispatch.SendTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Holidays.Region)) {
	case "", "kr":
	default:
		add("holidays.region: unsupported %q", cfg.Holidays.Region)
	}
	for i, d := range cfg.Holidays.Dates {
		if !validHolidayDate(d) {
			add("holidays.dates[%d]: want YYYY-MM-DD or MM-DD, got %q", i, d)
		}
	}

	if err := ValidateCommandNames(cfg.Commands); err != nil {
		errs = append(errs, err)
	}
	for _, c := range cfg.Commands.Prefix {
		if unicode.IsSpace(c) {
			add("commands.prefix: must not contain spaces")
			break
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	dur("debug.read_timeout", cfg.Debug.ReadTimeout)
	dur("debug.write_timeout", cfg.Debug.WriteTimeout)
	dur("debug.idle_timeout", cfg.Debug.IdleTimeout)

	return errors.Join(errs...)
}

func validateSchedule(s ScheduleConfig) []error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("schedule.timezone: %w", err)
		}
	}
	if days := strings.TrimSpace(s.Days); days != "" {
		if _, err := cron.ParseStandard("0 0 * * " + days); err != nil {
			add("schedule.days: %w", err)
		}
	}
	lead, err := ParseDurationField("schedule.prefetch_lead", s.PrefetchLead)
	if err != nil {
		errs = append(errs, err)
	} else if lead >= 24*time.Hour {
		add("schedule.prefetch_lead: must be shorter than a day")
	}
	if _, err := ParseDurationField("schedule.clear_window", s.ClearWindow); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("schedule.job_timeout", s.JobTimeout); err != nil {
		errs = append(errs, err)
	}

	if len(s.Meals) == 0 {
		add("schedule.meals: at least one meal is required")
	}
	seen := map[string]bool{}
	for i, m := range s.Meals {
		name := strings.TrimSpace(m.Name)
		switch {
		case name == "":
			add("schedule.meals[%d].name: required", i)
		case strings.ContainsAny(name, " ./\t"):
			add("schedule.meals[%d].name: %q must not contain spaces, dots or slashes", i, name)
		case seen[name]:
			add("schedule.meals[%d].name: duplicate %q", i, name)
		}
		seen[name] = true
		if len(m.At) != 2 {
			add("schedule.meals[%d].at: want [hour, minute]", i)
			continue
		}
		if m.At[0] < 0 || m.At[0] > 23 || m.At[1] < 0 || m.At[1] > 59 {
			add("schedule.meals[%d].at: %v out of range", i, m.At)
		}
	}
	return errs
}

// ValidateCommandNames rejects empty command lists and any name or alias
// that occurs twice across all commands.
func ValidateCommandNames(c CommandsConfig) error {
	lists := []struct {
		key   string
		names []string
	}{
		{"menu", c.Menu},
		{"help", c.Help},
		{"test", c.Test},
		{"holiday_skip", c.HolidaySkip},
		{"auto_message", c.AutoMessage},
		{"set_channel", c.SetChannel},
	}
	var errs []error
	owner := map[string]string{}
	for _, l := range lists {
		if len(l.names) == 0 {
			errs = append(errs, fmt.Errorf("commands.%s: at least a name is required", l.key))
			continue
		}
		for _, n := range l.names {
			key := strings.ToLower(strings.TrimSpace(n))
			if key == "" || strings.IndexFunc(key, unicode.IsSpace) >= 0 {
				errs = append(errs, fmt.Errorf("commands.%s: invalid name %q", l.key, n))
				continue
			}
			if prev, dup := owner[key]; dup {
				errs = append(errs, fmt.Errorf("commands.%s: %q already used by commands.%s", l.key, n, prev))
				continue
			}
			owner[key] = l.key
		}
	}
	return errors.Join(errs...)
}

func validHolidayDate(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return true
	}
	// 2024 is a leap year so 02-29 is accepted as a recurring date.
	_, err := time.Parse("2006-01-02", "2024-"+s)
	return len(s) == 5 && err == nil
}
