package ingest

import "strings"

// ContentPolicy decides whether an event's wire message carries the
// platform-visible notification block. Titles containing any of the keywords
// are urgent: the OS renders them even when the app is not running. Everything
// else goes out data-only and surfacing is delegated to the client geofilter.
type ContentPolicy struct {
	VisibleKeywords []string
}

// DefaultContentPolicy marks failed-inspection titles as urgent, matching the
// upstream producer's wording.
func DefaultContentPolicy() ContentPolicy {
	return ContentPolicy{VisibleKeywords: []string{"不合格"}}
}

// ForceVisible reports whether the title trips the keyword policy.
func (p ContentPolicy) ForceVisible(title string) bool {
	for _, kw := range p.VisibleKeywords {
		if kw != "" && strings.Contains(title, kw) {
			return true
		}
	}
	return false
}
