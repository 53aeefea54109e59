package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bargn-app/pulse/internal/funnel"
)

// Memory is an in-memory implementation of Store. Thread-safe via RWMutex.
type Memory struct {
	mu       sync.RWMutex
	events   []AnalyticsEvent
	progress []FunnelProgress
	funnels  []funnel.Definition
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// AddFunnelDefinition registers a funnel definition to be returned by
// ListActiveFunnelDefinitions.
func (m *Memory) AddFunnelDefinition(def funnel.Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funnels = append(m.funnels, def)
}

// ListActiveFunnelDefinitions returns all registered funnel definitions.
func (m *Memory) ListActiveFunnelDefinitions(ctx context.Context) ([]funnel.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]funnel.Definition, len(m.funnels))
	copy(defs, m.funnels)
	return defs, nil
}

// InsertAnalyticsEvents appends a batch of events.
func (m *Memory) InsertAnalyticsEvents(ctx context.Context, events []AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		m.events = append(m.events, e)
	}
	return nil
}

// InsertFunnelProgress appends a batch of progress records.
func (m *Memory) InsertFunnelProgress(ctx context.Context, records []FunnelProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		m.progress = append(m.progress, r)
	}
	return nil
}

// LatestFunnelProgress returns the most recently inserted record for the
// session and funnel, or nil if none exists. Insertion order stands in for
// creation order, matching the append-only contract.
func (m *Memory) LatestFunnelProgress(ctx context.Context, sessionID, funnelID string) (*FunnelProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.progress) - 1; i >= 0; i-- {
		r := m.progress[i]
		if r.SessionID == sessionID && r.FunnelID == funnelID {
			record := r
			if r.CompletedAt != nil {
				completedAt := *r.CompletedAt
				record.CompletedAt = &completedAt
			}
			return &record, nil
		}
	}
	return nil, nil
}

// AnalyticsEvents returns a copy of all stored events.
func (m *Memory) AnalyticsEvents() []AnalyticsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]AnalyticsEvent, len(m.events))
	copy(events, m.events)
	return events
}

// FunnelProgressRecords returns a copy of all stored progress records.
func (m *Memory) FunnelProgressRecords() []FunnelProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]FunnelProgress, len(m.progress))
	copy(records, m.progress)
	return records
}
