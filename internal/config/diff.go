package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

// SummarizeConfigChange returns the sorted names of changed sections and safe
// fields for a reload log line. Tokens are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	og, ng := oldCfg.Gateway, newCfg.Gateway
	og.Token, ng.Token = tokenMark(og.Token), tokenMark(ng.Token)
	if og != ng {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.driver", ng.Driver),
			logx.Bool("gateway.token_changed", oldCfg.Gateway.Token != newCfg.Gateway.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Locale) != strings.TrimSpace(newCfg.Locale) {
		changed = append(changed, "locale")
		attrs = append(attrs, logx.String("locale", newCfg.Locale))
	}

	if !reflect.DeepEqual(oldCfg.Restaurants, newCfg.Restaurants) {
		changed = append(changed, "restaurants")
		attrs = append(attrs, logx.Int("restaurants.count", len(newCfg.Restaurants)))
	}

	if oldCfg.Menu != newCfg.Menu {
		changed = append(changed, "menu")
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
			logx.Int("schedule.meals", len(newCfg.Schedule.Meals)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
	}
	if !reflect.DeepEqual(oldCfg.Holidays, newCfg.Holidays) {
		changed = append(changed, "holidays")
		attrs = append(attrs, logx.Int("holidays.dates", len(newCfg.Holidays.Dates)))
	}
	if !reflect.DeepEqual(oldCfg.Commands, newCfg.Commands) {
		changed = append(changed, "commands")
	}
	if !reflect.DeepEqual(oldCfg.TenantDefaults, newCfg.TenantDefaults) {
		changed = append(changed, "tenant_defaults")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	od, nd := oldCfg.Debug, newCfg.Debug
	od.Token, nd.Token = tokenMark(od.Token), tokenMark(nd.Token)
	if od != nd || oldCfg.Debug.Token != newCfg.Debug.Token {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", nd.Addr),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that hot reload cannot apply.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "gateway", "storage", "task_engine":
			out = append(out, c)
		}
	}
	return out
}

func tokenMark(tok string) string {
	if strings.TrimSpace(tok) == "" {
		return ""
	}
	return "set"
}
