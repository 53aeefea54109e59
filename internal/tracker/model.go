// Package tracker implements the analytics event pipeline: tracking
// operations, a dedupe/batch queue with a debounce flush, and funnel
// progress evaluation. One Tracker exists per browsing session; the Hub
// owns the session-to-tracker mapping.
package tracker

import (
	"time"

	"github.com/bargn-app/pulse/internal/store"
)

// Pipeline timing defaults, matching the widget the events come from.
const (
	// DefaultBatchDelay is the debounce quiet period before a flush.
	DefaultBatchDelay = 300 * time.Millisecond

	// DefaultDedupeWindow is the span during which two events sharing a
	// dedupe key collapse to one.
	DefaultDedupeWindow = 5 * time.Second
)

// Router supplies the current navigation path for the session. Read-only;
// the tracker never initiates navigation.
type Router interface {
	CurrentPath() string
}

// ClientInfo holds descriptive attributes captured once per session from
// the ingesting request.
type ClientInfo struct {
	Referrer     string
	Language     string
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
}

// CustomEvent is an arbitrary event passed to TrackEvent.
type CustomEvent struct {
	EventType   string
	EventName   string
	PagePath    string
	PageTitle   string
	ElementText string
	Metadata    map[string]any
}

// recordKind tags a queue entry as an analytics event or a funnel progress
// record; each kind flushes as its own batched insert.
type recordKind int

const (
	kindAnalytics recordKind = iota
	kindFunnel
)

func (k recordKind) String() string {
	if k == kindFunnel {
		return "funnel"
	}
	return "analytics"
}

// queueEntry is one pending record in the dedupe/batch queue.
type queueEntry struct {
	kind       recordKind
	event      *store.AnalyticsEvent
	progress   *store.FunnelProgress
	enqueuedAt time.Time
	dedupeKey  string
}
