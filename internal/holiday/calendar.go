// Package holiday answers whether a date is a holiday for delivery purposes.
package holiday

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Region   string
	Weekends bool
	Dates    []string // "YYYY-MM-DD" or "MM-DD"
}

// Calendar is safe for concurrent use.
type Calendar struct {
	mu       sync.RWMutex
	weekends bool
	kr       bool
	dates    map[string]struct{} // YYYY-MM-DD
	yearly   map[string]struct{} // MM-DD

	yearMu sync.Mutex
	years  map[int]map[string]string // year -> YYYY-MM-DD -> name
}

func NewCalendar(cfg Config) (*Calendar, error) {
	c := &Calendar{years: map[int]map[string]string{}}
	if err := c.Apply(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply replaces the calendar. On error the previous calendar is kept.
func (c *Calendar) Apply(cfg Config) error {
	dates := map[string]struct{}{}
	yearly := map[string]struct{}{}

	kr := false
	switch strings.ToLower(strings.TrimSpace(cfg.Region)) {
	case "":
	case "kr":
		kr = true
	default:
		return fmt.Errorf("holiday: unknown region %q", cfg.Region)
	}

	for _, raw := range cfg.Dates {
		d := strings.TrimSpace(raw)
		switch len(d) {
		case len("2006-01-02"):
			if _, err := time.Parse("2006-01-02", d); err != nil {
				return fmt.Errorf("holiday: bad date %q", raw)
			}
			dates[d] = struct{}{}
		case len("01-02"):
			// Leap year so 02-29 parses.
			if _, err := time.Parse("2006-01-02", "2024-"+d); err != nil {
				return fmt.Errorf("holiday: bad date %q", raw)
			}
			yearly[d] = struct{}{}
		default:
			return fmt.Errorf("holiday: bad date %q", raw)
		}
	}

	c.mu.Lock()
	c.weekends, c.kr, c.dates, c.yearly = cfg.Weekends, kr, dates, yearly
	c.mu.Unlock()
	return nil
}

// IsHoliday reports whether t's calendar date, in t's location, is a holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.name(t)
	return ok
}

func (c *Calendar) name(t time.Time) (string, bool) {
	c.mu.RLock()
	weekends, kr := c.weekends, c.kr
	day := t.Format("2006-01-02")
	_, dated := c.dates[day]
	_, yearly := c.yearly[t.Format("01-02")]
	c.mu.RUnlock()

	if kr {
		if name, ok := c.krYear(t.Year())[day]; ok {
			return name, true
		}
	}
	if dated || yearly {
		return "configured", true
	}
	if weekends {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return "weekend", true
		}
	}
	return "", false
}

func (c *Calendar) krYear(year int) map[string]string {
	c.yearMu.Lock()
	defer c.yearMu.Unlock()
	m, ok := c.years[year]
	if !ok {
		m = KoreanHolidays(year)
		c.years[year] = m
	}
	return m
}
