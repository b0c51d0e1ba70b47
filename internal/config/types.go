package config

// Config is the static settings document. Durations are Go duration strings
// ("500ms", "8s", "2h").
type Config struct {
	Gateway        GatewayConfig        `json:"gateway"`
	Logging        LoggingConfig        `json:"logging"`
	Locale         string               `json:"locale,omitempty"`
	Restaurants    []Restaurant         `json:"restaurants"`
	Menu           MenuConfig           `json:"menu"`
	Schedule       ScheduleConfig       `json:"schedule"`
	TaskEngine     TaskEngineConfig     `json:"task_engine"`
	Dispatch       DispatchConfig       `json:"dispatch"`
	Holidays       HolidayConfig        `json:"holidays"`
	Commands       CommandsConfig       `json:"commands"`
	TenantDefaults TenantDefaultsConfig `json:"tenant_defaults"`
	Storage        StorageConfig        `json:"storage"`
	Debug          DebugConfig          `json:"debug,omitempty"`
}

// GatewayConfig selects the chat platform. Token is never logged.
type GatewayConfig struct {
	Driver string `json:"driver"` // discord | telegram
	Token  string `json:"token"`

	// PollTimeout is the telegram long-poll timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// ReadyTimeout bounds the wait for the initial tenant list after connect.
	ReadyTimeout string `json:"ready_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards warnings and errors to an operator channel.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	TenantID   string `json:"tenant_id,omitempty"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type Restaurant struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// MenuConfig tunes the fetcher and the shared cache.
//
// Defaults: fetch_timeout 8s (clamped to 4s..10s), refresh_timeout 30s,
// fetch_workers 4, selector "img.img_thumb", fresh_for = schedule.clear_window.
type MenuConfig struct {
	FetchTimeout   string `json:"fetch_timeout,omitempty"`
	RefreshTimeout string `json:"refresh_timeout,omitempty"`
	FreshFor       string `json:"fresh_for,omitempty"`
	FetchWorkers   int    `json:"fetch_workers,omitempty"`
	Selector       string `json:"selector,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
}

type ScheduleConfig struct {
	Timezone string `json:"timezone,omitempty"` // default Asia/Seoul
	// Days is the cron day-of-week field for prefetch and dispatch ("*", "mon-fri").
	Days         string `json:"days,omitempty"`
	Meals        []Meal `json:"meals"`
	PrefetchLead string `json:"prefetch_lead,omitempty"` // default 1m
	ClearWindow  string `json:"clear_window,omitempty"`  // default 2h
	JobTimeout   string `json:"job_timeout,omitempty"`   // default 2m
}

// Meal is one notification slot. At is [hour, minute] in the schedule zone.
type Meal struct {
	Name    string `json:"name"`
	At      []int  `json:"at"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// IsEnabled reports the meal's enabled flag, true when omitted.
func (m Meal) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

// TaskEngineConfig controls execution of scheduled jobs.
//
// Defaults: workers 2, queue_size 64, history_size 100, max_queue_delay 0s.
type TaskEngineConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
}

// DispatchConfig bounds the per-cycle fan-out. Defaults: workers 4,
// rate_per_sec 5, send_timeout 10s.
type DispatchConfig struct {
	Workers     int    `json:"workers,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// HolidayConfig describes the holiday calendar. Dates are "YYYY-MM-DD" for a
// single day or "MM-DD" for every year.
type HolidayConfig struct {
	Region   string   `json:"region,omitempty"` // "kr" adds fixed Korean public holidays
	Weekends bool     `json:"weekends,omitempty"`
	Dates    []string `json:"dates,omitempty"`
}

// CommandsConfig lists each command as [name, alias...].
type CommandsConfig struct {
	Prefix      string   `json:"prefix,omitempty"` // default "!"
	OwnerIDs    []string `json:"owner_ids,omitempty"`
	Menu        []string `json:"menu"`
	Help        []string `json:"help"`
	Test        []string `json:"test"`
	HolidaySkip []string `json:"holiday_skip"`
	AutoMessage []string `json:"auto_message"`
	SetChannel  []string `json:"set_channel"`
}

// TenantDefaultsConfig is applied to tenants seen for the first time.
// HolidaySkip is a pointer so an omitted value keeps the default (true).
type TenantDefaultsConfig struct {
	Channel     string `json:"channel,omitempty"`
	HolidaySkip *bool  `json:"holiday_skip,omitempty"`
	SchedulerOn bool   `json:"scheduler_on,omitempty"`
}

// StorageConfig selects the tenant registry backend.
//
//	"storage": { "driver": "file", "path": "./data/servers.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DebugConfig controls the operator HTTP server (health, metrics, jobs, pprof).
// Binding to a non-loopback address requires a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
