package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(filepath.Join("..", "..", "configs", "config.example.yaml"))
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Driver != "discord" {
		t.Fatalf("driver=%q", cfg.Gateway.Driver)
	}
	if len(cfg.Schedule.Meals) != 2 || cfg.Schedule.Meals[0].At[0] != 11 {
		t.Fatalf("meals=%+v", cfg.Schedule.Meals)
	}
	if cfg.TenantDefaults.HolidaySkip == nil || !*cfg.TenantDefaults.HolidaySkip {
		t.Fatalf("tenant_defaults.holiday_skip not parsed")
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}
}

func TestParseBytesStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{name: "unknown yaml key", file: "c.yaml", body: "gateway:\n  driver: discord\n  colour: red\n", wantErr: "colour"},
		{name: "unknown json key", file: "c.json", body: `{"nope": 1}`, wantErr: "nope"},
		{name: "trailing json", file: "c.json", body: `{} {}`, wantErr: "trailing"},
		{name: "empty yaml", file: "c.yml", body: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes(tc.file, []byte(tc.body))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want substring %q", err, tc.wantErr)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Gateway:     GatewayConfig{Driver: "discord", Token: "t"},
		Restaurants: []Restaurant{{Name: "A", URL: "https://pf.kakao.com/_a"}},
		Schedule: ScheduleConfig{
			Timezone: "Asia/Seoul",
			Meals:    []Meal{{Name: "lunch", At: []int{12, 0}}},
		},
		Commands: CommandsConfig{
			Menu:        []string{"메뉴"},
			Help:        []string{"도움말"},
			Test:        []string{"테스트"},
			HolidaySkip: []string{"휴일스킵"},
			AutoMessage: []string{"자동문자"},
			SetChannel:  []string{"채널지정"},
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "driver", mutate: func(c *Config) { c.Gateway.Driver = "irc" }, wantErr: "gateway.driver"},
		{name: "meal hour", mutate: func(c *Config) { c.Schedule.Meals[0].At = []int{24, 0} }, wantErr: "out of range"},
		{name: "meal shape", mutate: func(c *Config) { c.Schedule.Meals[0].At = []int{12} }, wantErr: "[hour, minute]"},
		{name: "timezone", mutate: func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, wantErr: "schedule.timezone"},
		{name: "days", mutate: func(c *Config) { c.Schedule.Days = "funday" }, wantErr: "schedule.days"},
		{name: "duplicate alias", mutate: func(c *Config) { c.Commands.Help = []string{"도움말", "메뉴"} }, wantErr: "already used"},
		{name: "empty command", mutate: func(c *Config) { c.Commands.Test = nil }, wantErr: "commands.test"},
		{name: "holiday date", mutate: func(c *Config) { c.Holidays.Dates = []string{"2026-13-01"} }, wantErr: "holidays.dates[0]"},
		{name: "recurring date", mutate: func(c *Config) { c.Holidays.Dates = []string{"02-29", "12-25"} }},
		{name: "restaurant url", mutate: func(c *Config) { c.Restaurants[0].URL = "pf.kakao.com" }, wantErr: "restaurants[0].url"},
		{name: "duration", mutate: func(c *Config) { c.Menu.FetchTimeout = "soon" }, wantErr: "menu.fetch_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChangeHidesTokens(t *testing.T) {
	t.Parallel()

	a := validConfig()
	b := validConfig()
	b.Gateway.Token = "other"
	b.Restaurants = append(b.Restaurants, Restaurant{Name: "B", URL: "https://example.com"})

	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "gateway,restaurants" {
		t.Fatalf("changed=%v", changed)
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "gateway" {
		t.Fatalf("RestartRequired=%v", got)
	}
}

func TestWatchPublishesValidChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"locale":"ko"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Locale != "en" {
				t.Fatalf("locale=%q", cfg.Locale)
			}
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees it.
			_ = os.WriteFile(path, []byte(`{"locale":"en"}`), 0o644)
		case <-deadline:
			t.Fatalf("no config published")
		}
	}
}
