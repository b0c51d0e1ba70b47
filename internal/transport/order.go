package transport

import (
	"sort"
	"strings"
)

// SortChannels orders channels by creation time, then position, then id.
// Platforms return channel lists in unspecified order; fallback selection
// relies on this order.
func SortChannels(chs []Channel) {
	sort.SliceStable(chs, func(i, j int) bool {
		a, b := chs[i], chs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
}

// FindChannel matches ref against id first, then name (case-insensitive,
// leading '#' ignored).
func FindChannel(chs []Channel, ref string) (Channel, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Channel{}, false
	}
	for _, c := range chs {
		if c.ID == ref {
			return c, true
		}
	}
	name := strings.TrimPrefix(ref, "#")
	for _, c := range chs {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Channel{}, false
}
