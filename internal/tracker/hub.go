package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bargn-app/pulse/internal/funnel"
	"github.com/bargn-app/pulse/internal/store"
)

// Hub eviction defaults.
const (
	// DefaultIdleTTL is how long a session tracker may sit idle before
	// eviction closes it.
	DefaultIdleTTL = 30 * time.Minute

	// DefaultEvictInterval is the period between eviction sweeps.
	DefaultEvictInterval = time.Minute
)

// HubConfig configures the session hub.
type HubConfig struct {
	// Store is shared by all trackers.
	Store store.Store
	// Clock drives tracker timers and idle bookkeeping.
	Clock clock.Clock
	// Logger for hub and tracker activity.
	Logger *slog.Logger
	// Metrics for pipeline observability. Optional.
	Metrics *Metrics
	// BatchDelay and DedupeWindow are passed through to new trackers.
	BatchDelay   time.Duration
	DedupeWindow time.Duration
	// IdleTTL is the idle lifetime of a session tracker.
	IdleTTL time.Duration
	// EvictInterval is the period between eviction sweeps.
	EvictInterval time.Duration
}

// hubEntry pairs a tracker with its router state and idle bookkeeping.
type hubEntry struct {
	tracker  *Tracker
	path     *PathState
	lastSeen time.Time
}

// Hub owns the session-to-tracker mapping. Trackers are created on first
// sight of a session and closed (with a final flush) after sitting idle for
// IdleTTL. The funnel definition cache is shared across all trackers and
// loaded once at startup.
type Hub struct {
	cfg     HubConfig
	funnels *funnel.Cache

	mu      sync.RWMutex
	entries map[string]*hubEntry

	jobMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHub creates a session hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = DefaultEvictInterval
	}

	return &Hub{
		cfg:     cfg,
		funnels: funnel.NewCache(cfg.Logger),
		entries: make(map[string]*hubEntry),
	}
}

// LoadFunnels fetches the active funnel definitions from the store. Run it
// from a goroutine at startup; until it completes, funnel matching is a
// no-op across all trackers.
func (h *Hub) LoadFunnels(ctx context.Context) {
	h.funnels.Load(ctx, h.cfg.Store)
}

// Funnels exposes the shared funnel cache.
func (h *Hub) Funnels() *funnel.Cache {
	return h.funnels
}

// Resolve returns the tracker for a session, creating it on first sight.
// The reported current path and client info are applied before returning.
func (h *Hub) Resolve(sessionID, currentPath string, client ClientInfo) *Tracker {
	now := h.cfg.Clock.Now()

	h.mu.RLock()
	entry, ok := h.entries[sessionID]
	h.mu.RUnlock()

	if !ok {
		h.mu.Lock()
		entry, ok = h.entries[sessionID]
		if !ok {
			path := NewPathState()
			entry = &hubEntry{
				tracker: New(Config{
					SessionID:    sessionID,
					Store:        h.cfg.Store,
					Router:       path,
					Funnels:      h.funnels,
					Client:       client,
					Clock:        h.cfg.Clock,
					Logger:       h.cfg.Logger,
					Metrics:      h.cfg.Metrics,
					BatchDelay:   h.cfg.BatchDelay,
					DedupeWindow: h.cfg.DedupeWindow,
				}),
				path: path,
			}
			h.entries[sessionID] = entry
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.SetActiveTrackers(len(h.entries))
			}
		}
		h.mu.Unlock()
	}

	if currentPath != "" {
		entry.path.Set(currentPath)
	}

	h.mu.Lock()
	entry.lastSeen = now
	h.mu.Unlock()

	return entry.tracker
}

// Len returns the number of live trackers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Start begins the periodic eviction job.
// Returns immediately; the job runs in a background goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.jobMu.Lock()
	if h.running {
		h.jobMu.Unlock()
		return nil
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	h.jobMu.Unlock()

	go h.run(ctx)
	return nil
}

// Stop signals the eviction job to stop and waits for it to finish.
func (h *Hub) Stop() {
	h.jobMu.Lock()
	if !h.running {
		h.jobMu.Unlock()
		return
	}
	stopCh := h.stopCh
	doneCh := h.doneCh
	h.jobMu.Unlock()

	close(stopCh)
	<-doneCh

	h.jobMu.Lock()
	h.running = false
	h.jobMu.Unlock()
}

// IsRunning returns whether the eviction job is currently running.
func (h *Hub) IsRunning() bool {
	h.jobMu.Lock()
	defer h.jobMu.Unlock()
	return h.running
}

// Close stops the eviction job and closes every tracker, flushing their
// pending batches.
func (h *Hub) Close() {
	h.Stop()

	h.mu.Lock()
	entries := h.entries
	h.entries = make(map[string]*hubEntry)
	h.mu.Unlock()

	for _, entry := range entries {
		entry.tracker.Close()
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.SetActiveTrackers(0)
	}
}

// run is the main loop for the eviction job.
func (h *Hub) run(ctx context.Context) {
	defer close(h.doneCh)

	ticker := h.cfg.Clock.Ticker(h.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.cfg.Logger.Info("tracker eviction job stopping due to context cancellation")
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.EvictIdle()
		}
	}
}

// EvictIdle closes and removes trackers that have been idle longer than
// IdleTTL. Exposed for tests and forced sweeps.
func (h *Hub) EvictIdle() {
	now := h.cfg.Clock.Now()

	h.mu.Lock()
	var idle []*hubEntry
	for sessionID, entry := range h.entries {
		if now.Sub(entry.lastSeen) >= h.cfg.IdleTTL {
			idle = append(idle, entry)
			delete(h.entries, sessionID)
		}
	}
	remaining := len(h.entries)
	h.mu.Unlock()

	if len(idle) == 0 {
		return
	}

	// Close outside the lock: Close performs a final flush with network
	// calls, and new sessions must not wait on it.
	for _, entry := range idle {
		entry.tracker.Close()
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.IncTrackersEvicted()
		}
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.SetActiveTrackers(remaining)
	}

	h.cfg.Logger.Info("evicted idle trackers",
		"evicted", len(idle),
		"remaining", remaining)
}
