package dispatch

import "time"

// Report summarizes one DispatchToAll cycle.
type Report struct {
	CycleID  string        `json:"cycle_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Holiday  bool          `json:"holiday"`
	// NoMenu is set when the cycle was skipped for lack of a menu.
	NoMenu bool `json:"no_menu,omitempty"`

	Targets        int `json:"targets"`
	Sent           int `json:"sent"`
	SkippedOff     int `json:"skipped_off"`
	SkippedHoliday int `json:"skipped_holiday"`
	Fallbacks      int `json:"fallbacks"`
	NoChannel      int `json:"no_channel"`
	Failed         int `json:"failed"`

	// CutShort counts targets skipped because the cycle deadline passed.
	CutShort int `json:"cut_short,omitempty"`

	Delivered []Delivery `json:"delivered,omitempty"`
	Failures  []Failure  `json:"failures,omitempty"`
}

type Delivery struct {
	TenantID    string `json:"tenant_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	Fallback    bool   `json:"fallback,omitempty"`
}

type Failure struct {
	TenantID string `json:"tenant_id"`
	Error    string `json:"error"`
}
