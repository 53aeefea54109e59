// Package store provides persistence for analytics events and funnel
// progress records. Two implementations exist: an in-memory store used by
// tests and development mode, and a Postgres-backed store for production.
package store

import (
	"context"
	"time"

	"github.com/bargn-app/pulse/internal/funnel"
)

// AnalyticsEvent is a single tracked action. Events are immutable once
// captured and are inserted in batches.
type AnalyticsEvent struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	EventType    string         `json:"event_type"`
	EventName    string         `json:"event_name"`
	PagePath     string         `json:"page_path,omitempty"`
	PageTitle    string         `json:"page_title,omitempty"`
	ElementText  string         `json:"element_text,omitempty"`
	Referrer     string         `json:"referrer,omitempty"`
	Language     string         `json:"language,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	ScreenWidth  int            `json:"screen_width,omitempty"`
	ScreenHeight int            `json:"screen_height,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FunnelProgress records a session reaching a funnel step. Records are
// append-only; the latest record per (session, funnel) holds the furthest
// step reached.
type FunnelProgress struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	FunnelID    string     `json:"funnel_id"`
	CurrentStep int        `json:"current_step"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Store is the persistence collaborator for the tracker. Batched inserts
// are all-or-nothing from the tracker's perspective; partial failure is not
// distinguished.
type Store interface {
	funnel.Source

	// InsertAnalyticsEvents persists a batch of analytics events.
	InsertAnalyticsEvents(ctx context.Context, events []AnalyticsEvent) error

	// InsertFunnelProgress persists a batch of funnel progress records.
	InsertFunnelProgress(ctx context.Context, records []FunnelProgress) error

	// LatestFunnelProgress returns the most recently created progress
	// record for a session and funnel, or nil if none exists.
	LatestFunnelProgress(ctx context.Context, sessionID, funnelID string) (*FunnelProgress, error)
}
