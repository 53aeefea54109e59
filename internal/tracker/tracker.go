package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bargn-app/pulse/internal/funnel"
	"github.com/bargn-app/pulse/internal/store"
)

// Config configures a Tracker. Store is required; everything else has a
// sensible default.
type Config struct {
	// SessionID is the stable identifier for the browsing session.
	SessionID string
	// Store receives batched inserts and answers funnel progress queries.
	Store store.Store
	// Router supplies the current navigation path.
	Router Router
	// Funnels holds the active funnel definitions, shared across trackers.
	Funnels *funnel.Cache
	// Client holds descriptive attributes stamped onto every event.
	Client ClientInfo
	// Clock drives the debounce timer and dedupe window.
	Clock clock.Clock
	// Logger for pipeline activity.
	Logger *slog.Logger
	// Metrics for pipeline observability. Optional.
	Metrics *Metrics
	// BatchDelay is the debounce quiet period before a flush.
	BatchDelay time.Duration
	// DedupeWindow is the duplicate suppression span.
	DedupeWindow time.Duration
}

// Tracker batches and deduplicates tracked events for one session and
// evaluates funnel step advancement. Every public operation is
// fire-and-forget: errors are logged and swallowed, never returned, so a
// tracking failure can never break the caller.
type Tracker struct {
	cfg      Config
	debounce *debouncer

	mu           sync.Mutex
	queue        []queueEntry
	seenKeys     map[string]time.Time
	lastPagePath string
	closed       bool
}

// New creates a Tracker for a session.
func New(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Funnels == nil {
		cfg.Funnels = funnel.NewCache(cfg.Logger)
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}

	t := &Tracker{
		cfg:      cfg,
		seenKeys: make(map[string]time.Time),
	}
	t.debounce = newDebouncer(cfg.Clock, cfg.BatchDelay, func() {
		t.flush(context.Background())
	})
	return t
}

// SessionID returns the session this tracker belongs to.
func (t *Tracker) SessionID() string {
	return t.cfg.SessionID
}

// TrackPageView records a page view for the current path, or for an
// explicit path override. Repeated views of the same path are a no-op, so
// re-renders do not spam page views.
func (t *Tracker) TrackPageView(path, title string) {
	if path == "" {
		path = t.currentPath()
	}

	t.mu.Lock()
	if t.closed || path == t.lastPagePath {
		t.mu.Unlock()
		return
	}
	t.lastPagePath = path
	t.mu.Unlock()

	name := "page_view_" + path
	ev := t.buildEvent(funnel.EventPageView, name, path)
	ev.PageTitle = title
	t.enqueue(queueEntry{kind: kindAnalytics, event: ev, dedupeKey: "pageview_" + path})
	t.matchFunnels(path, funnel.EventPageView, name)
}

// TrackButtonClick records a click on a logically named button.
func (t *Tracker) TrackButtonClick(name, text string, metadata map[string]any) {
	path := t.currentPath()
	ev := t.buildEvent(funnel.EventButtonClick, name, path)
	ev.ElementText = text
	ev.Metadata = metadata
	t.enqueue(queueEntry{kind: kindAnalytics, event: ev, dedupeKey: "click_" + name})
	t.matchFunnels(path, funnel.EventButtonClick, name)
}

// TrackFormSubmit records a form submission. Forms are not funnel triggers.
func (t *Tracker) TrackFormSubmit(formName string, metadata map[string]any) {
	ev := t.buildEvent(funnel.EventFormSubmit, formName, t.currentPath())
	ev.Metadata = metadata
	t.enqueue(queueEntry{kind: kindAnalytics, event: ev, dedupeKey: "form_" + formName})
}

// TrackNavigation records an outbound or internal navigation intent.
func (t *Tracker) TrackNavigation(destination, linkText string) {
	ev := t.buildEvent(funnel.EventNavigation, destination, t.currentPath())
	ev.ElementText = linkText
	ev.Metadata = map[string]any{"destination": destination}
	t.enqueue(queueEntry{kind: kindAnalytics, event: ev, dedupeKey: "nav_" + destination})
}

// TrackEvent records an arbitrary event and runs funnel matching with its
// type and name.
func (t *Tracker) TrackEvent(e CustomEvent) {
	if e.EventType == "" {
		e.EventType = funnel.EventCustom
	}
	path := e.PagePath
	if path == "" {
		path = t.currentPath()
	}

	ev := t.buildEvent(e.EventType, e.EventName, path)
	ev.PageTitle = e.PageTitle
	ev.ElementText = e.ElementText
	ev.Metadata = e.Metadata
	t.enqueue(queueEntry{
		kind:      kindAnalytics,
		event:     ev,
		dedupeKey: fmt.Sprintf("custom_%s_%s", e.EventType, e.EventName),
	})
	t.matchFunnels(path, e.EventType, e.EventName)
}

// Flush drains the queue immediately, bypassing the debounce timer.
func (t *Tracker) Flush(ctx context.Context) {
	t.debounce.Stop()
	t.flush(ctx)
}

// Close stops the debounce timer, performs a final flush, and rejects any
// further events.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.debounce.Stop()
	t.flush(context.Background())
}

// matchFunnels scans the active funnels for a step matching the triggering
// event and enqueues a progress record when the session advances. A session
// never regresses: a matched step at or below the last recorded step is
// ignored.
func (t *Tracker) matchFunnels(path, eventType, eventName string) {
	defs := t.cfg.Funnels.Definitions()
	if len(defs) == 0 {
		return
	}

	ctx := context.Background()
	for i := range defs {
		def := &defs[i]
		step := def.MatchStep(path, eventType, eventName)
		if step == nil {
			continue
		}

		last, err := t.cfg.Store.LatestFunnelProgress(ctx, t.cfg.SessionID, def.ID)
		if err != nil {
			t.cfg.Logger.Error("failed to query latest funnel progress",
				"funnel_id", def.ID,
				"session_id", t.cfg.SessionID,
				"error", err)
			continue
		}

		lastStep := 0
		if last != nil {
			lastStep = last.CurrentStep
		}
		if step.StepNumber <= lastStep {
			continue
		}

		completed := step.StepNumber == def.StepCount()
		record := &store.FunnelProgress{
			SessionID:   t.cfg.SessionID,
			FunnelID:    def.ID,
			CurrentStep: step.StepNumber,
			Completed:   completed,
			CreatedAt:   t.now(),
		}
		if completed {
			completedAt := t.now()
			record.CompletedAt = &completedAt
		}

		key := fmt.Sprintf("funnel_%s_%d_%s", def.ID, step.StepNumber, t.cfg.SessionID)
		if !t.enqueue(queueEntry{kind: kindFunnel, progress: record, dedupeKey: key}) {
			continue
		}

		t.cfg.Logger.Debug("funnel step advanced",
			"funnel_id", def.ID,
			"session_id", t.cfg.SessionID,
			"step", step.StepNumber,
			"completed", completed)
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncFunnelAdvancements(def.ID)
			if completed {
				t.cfg.Metrics.IncFunnelCompletions(def.ID)
			}
		}
	}
}

// enqueue appends an entry to the queue unless its dedupe key was seen
// within the dedupe window, and rearms the debounce timer. Returns whether
// the entry was accepted.
func (t *Tracker) enqueue(e queueEntry) bool {
	now := t.now()
	e.enqueuedAt = now
	label := t.typeLabel(e)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	if seen, ok := t.seenKeys[e.dedupeKey]; ok && now.Sub(seen) < t.cfg.DedupeWindow {
		t.mu.Unlock()
		t.cfg.Logger.Debug("discarding duplicate event",
			"dedupe_key", e.dedupeKey,
			"session_id", t.cfg.SessionID)
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncEventsDeduplicated(label)
		}
		return false
	}
	t.seenKeys[e.dedupeKey] = now
	t.queue = append(t.queue, e)
	t.mu.Unlock()

	t.debounce.Arm()
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.IncEventsTracked(label)
	}
	return true
}

// flush drains the queue and submits one batched insert per record kind,
// both in flight at once. The queue is swapped out before any network call,
// so events arriving mid-flush start a fresh queue and ride the next cycle.
// Failed batches are logged and dropped, never retried.
func (t *Tracker) flush(ctx context.Context) {
	now := t.now()

	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	for key, seen := range t.seenKeys {
		if now.Sub(seen) >= t.cfg.DedupeWindow {
			delete(t.seenKeys, key)
		}
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var events []store.AnalyticsEvent
	var progress []store.FunnelProgress
	for _, e := range batch {
		switch e.kind {
		case kindAnalytics:
			events = append(events, *e.event)
		case kindFunnel:
			progress = append(progress, *e.progress)
		}
	}

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.ObserveBatchSize(len(batch))
	}

	var wg sync.WaitGroup
	if len(events) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.submit(kindAnalytics, len(events), t.cfg.Store.InsertAnalyticsEvents(ctx, events))
		}()
	}
	if len(progress) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.submit(kindFunnel, len(progress), t.cfg.Store.InsertFunnelProgress(ctx, progress))
		}()
	}
	wg.Wait()
}

// submit records the outcome of one batched insert.
func (t *Tracker) submit(kind recordKind, size int, err error) {
	if err != nil {
		t.cfg.Logger.Error("failed to flush batch",
			"kind", kind.String(),
			"size", size,
			"session_id", t.cfg.SessionID,
			"error", err)
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.IncFlushErrors(kind.String())
		}
		return
	}
	if t.cfg.Metrics != nil {
		t.cfg.Metrics.IncFlushes(kind.String())
	}
	t.cfg.Logger.Debug("flushed batch",
		"kind", kind.String(),
		"size", size,
		"session_id", t.cfg.SessionID)
}

func (t *Tracker) buildEvent(eventType, eventName, path string) *store.AnalyticsEvent {
	return &store.AnalyticsEvent{
		SessionID:    t.cfg.SessionID,
		EventType:    eventType,
		EventName:    eventName,
		PagePath:     path,
		Referrer:     t.cfg.Client.Referrer,
		Language:     t.cfg.Client.Language,
		UserAgent:    t.cfg.Client.UserAgent,
		ScreenWidth:  t.cfg.Client.ScreenWidth,
		ScreenHeight: t.cfg.Client.ScreenHeight,
		CreatedAt:    t.now(),
	}
}

func (t *Tracker) typeLabel(e queueEntry) string {
	if e.kind == kindFunnel {
		return "funnel_progress"
	}
	return e.event.EventType
}

func (t *Tracker) currentPath() string {
	if t.cfg.Router == nil {
		return ""
	}
	return t.cfg.Router.CurrentPath()
}

func (t *Tracker) now() time.Time {
	return t.cfg.Clock.Now()
}

// PathState is a mutable Router fed by the ingest layer: each tracking
// request reports the page it came from, mirroring an SPA router's current
// location.
type PathState struct {
	mu   sync.RWMutex
	path string
}

// NewPathState creates an empty PathState.
func NewPathState() *PathState {
	return &PathState{}
}

// Set records the current navigation path.
func (p *PathState) Set(path string) {
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
}

// CurrentPath returns the last reported path.
func (p *PathState) CurrentPath() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.path
}
