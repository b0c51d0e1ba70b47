package holiday

import (
	"sort"
	"time"

	"github.com/6tail/lunar-go/calendar"
)

// lunar-go follows the Chinese calendar (UTC+8). A new moon just before
// midnight in Beijing starts the month a day later in Seoul.
var kstLunarShift = map[[2]int]int{
	{2027, 1}: 1,
}

type subRule int

const (
	subNone    subRule = iota
	subSunday          // Sunday or overlap
	subWeekend         // Saturday, Sunday or overlap
)

type krGroup struct {
	name  string
	days  []time.Time
	rule  subRule
	since int // first year the rule applies
}

// KoreanHolidays returns the public holidays of year keyed by YYYY-MM-DD,
// substitute holidays included.
func KoreanHolidays(year int) map[string]string {
	groups := krGroups(year)

	out := map[string]string{}
	owners := map[string]int{}
	for _, g := range groups {
		for _, d := range g.days {
			k := d.Format("2006-01-02")
			if _, ok := out[k]; !ok {
				out[k] = g.name
			}
			owners[k]++
		}
	}

	claimed := map[string]bool{}
	for _, g := range groups {
		if g.rule == subNone || year < g.since {
			continue
		}
		need := 0
		for _, d := range g.days {
			k := d.Format("2006-01-02")
			switch {
			case d.Weekday() == time.Sunday:
				need++
			case d.Weekday() == time.Saturday && g.rule == subWeekend:
				need++
			case owners[k] > 1 && !claimed[k]:
				claimed[k] = true
				need++
			}
		}
		last := g.days[len(g.days)-1]
		for d := last.AddDate(0, 0, 1); need > 0; d = d.AddDate(0, 0, 1) {
			k := d.Format("2006-01-02")
			if _, taken := out[k]; taken || isWeekend(d) {
				continue
			}
			out[k] = "대체공휴일"
			need--
		}
	}
	return out
}

func krGroups(year int) []krGroup {
	fixed := func(m time.Month, d int) []time.Time {
		return []time.Time{date(year, m, d)}
	}
	groups := []krGroup{
		{name: "신정", days: fixed(time.January, 1)},
		{name: "설날", days: around(lunarToSolar(year, 1, 1)), rule: subSunday, since: 2014},
		{name: "삼일절", days: fixed(time.March, 1), rule: subWeekend, since: 2021},
		{name: "어린이날", days: fixed(time.May, 5), rule: subWeekend, since: 2014},
		{name: "부처님오신날", days: []time.Time{lunarToSolar(year, 4, 8)}, rule: subWeekend, since: 2023},
		{name: "현충일", days: fixed(time.June, 6)},
		{name: "광복절", days: fixed(time.August, 15), rule: subWeekend, since: 2021},
		{name: "추석", days: around(lunarToSolar(year, 8, 15)), rule: subSunday, since: 2014},
		{name: "개천절", days: fixed(time.October, 3), rule: subWeekend, since: 2021},
		{name: "크리스마스", days: fixed(time.December, 25), rule: subWeekend, since: 2023},
	}
	if year >= 2013 {
		groups = append(groups, krGroup{name: "한글날", days: fixed(time.October, 9), rule: subWeekend, since: 2021})
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].days[0].Before(groups[j].days[0]) })
	return groups
}

func lunarToSolar(year, month, day int) time.Time {
	s := calendar.NewLunarFromYmd(year, month, day).GetSolar()
	t := date(s.GetYear(), time.Month(s.GetMonth()), s.GetDay())
	if shift := kstLunarShift[[2]int{year, month}]; shift != 0 {
		t = t.AddDate(0, 0, shift)
	}
	return t
}

func around(t time.Time) []time.Time {
	return []time.Time{t.AddDate(0, 0, -1), t, t.AddDate(0, 0, 1)}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
