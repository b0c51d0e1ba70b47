// Package menu fetches the daily menu and keeps one shared, short-lived copy.
package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrFetch        = errors.New("menu: fetch failed")
	ErrFetchTimeout = errors.New("menu: fetch timed out")
	// ErrUnavailable is returned by Cache.Get when no menu is cached.
	ErrUnavailable = errors.New("menu: unavailable")
	ErrNoSources   = errors.New("menu: no sources configured")
)

// Restaurant is one menu source.
type Restaurant struct {
	Name string
	URL  string
}

// Result is the outcome for one source: URL on success, Err otherwise.
type Result struct {
	Name string
	URL  string
	Err  error
}

func (r Result) OK() bool { return r.Err == nil && r.URL != "" }

// Fetcher returns exactly one Result per source, in input order. It never
// fails the batch because of one source.
type Fetcher interface {
	Fetch(ctx context.Context, sources []Restaurant) []Result
}

// Snapshot is the cached menu. Text is empty exactly when FetchedAt is zero.
type Snapshot struct {
	Text      string
	FetchedAt time.Time
}

func (s Snapshot) IsEmpty() bool { return s.Text == "" }

// Age is the time since the snapshot was taken, zero for an empty one.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.IsEmpty() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

// Format renders one line per result. placeholder receives the source name
// and returns the text used for a failed source.
func Format(results []Result, placeholder func(name string) string) string {
	if placeholder == nil {
		placeholder = DefaultPlaceholder
	}
	var b strings.Builder
	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(&b, "%s: %s\n", r.Name, r.URL)
			continue
		}
		b.WriteString(placeholder(r.Name))
		b.WriteByte('\n')
	}
	return b.String()
}

// DefaultPlaceholder is the Korean "unreachable" line.
func DefaultPlaceholder(name string) string {
	return fmt.Sprintf("%s URL주소에 접속할 수 없습니다.", name)
}
