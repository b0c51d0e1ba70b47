package schedule

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// ClockTime is a wall-clock time of day. 24:00 is only produced by
// ClearTime and means end of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) Valid() bool {
	return c.Hour >= 0 && c.Hour <= 23 && c.Minute >= 0 && c.Minute <= 59
}

// PrefetchTime is at minus lead. Minutes borrow from the hour and the hour
// wraps to the previous day (00:00 - 1m = 23:59). Lead is truncated to
// whole minutes.
func PrefetchTime(at ClockTime, lead time.Duration) ClockTime {
	m := (at.minutes() - int(lead/time.Minute)) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return ClockTime{Hour: m / 60, Minute: m % 60}
}

// ClearTime is at plus window, capped at 24:00 so it never rolls into the
// next day.
func ClearTime(at ClockTime, window time.Duration) ClockTime {
	m := at.minutes() + int(window/time.Minute)
	if m >= minutesPerDay {
		return ClockTime{Hour: 24, Minute: 0}
	}
	return ClockTime{Hour: m / 60, Minute: m % 60}
}

// cronSpec renders a 5-field spec for c on days (cron day-of-week field).
// 24:00 maps to midnight.
func cronSpec(c ClockTime, days string) string {
	if days == "" {
		days = "*"
	}
	if c.Hour >= 24 {
		return fmt.Sprintf("0 0 * * %s", days)
	}
	return fmt.Sprintf("%d %d * * %s", c.Minute, c.Hour, days)
}
