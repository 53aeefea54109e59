package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	"github.com/bargn-app/pulse/internal/funnel"
)

// Postgres is the Postgres-backed implementation of Store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool and fails fast if the database is
// unreachable.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// DB exposes the underlying pool for health checks.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Close shuts down the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// InsertAnalyticsEvents persists a batch of events with a single
// multi-row insert.
func (p *Postgres) InsertAnalyticsEvents(ctx context.Context, events []AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 14
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}

		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}

		placeholders = append(placeholders, rowPlaceholder(i*cols+1, cols))
		args = append(args,
			e.ID, e.SessionID, e.EventType, e.EventName,
			nullString(e.PagePath), nullString(e.PageTitle), nullString(e.ElementText),
			nullString(e.Referrer), nullString(e.Language), nullString(e.UserAgent),
			nullInt(e.ScreenWidth), nullInt(e.ScreenHeight),
			metadata, e.CreatedAt,
		)
	}

	query := `INSERT INTO analytics_events
		(id, session_id, event_type, event_name, page_path, page_title, element_text,
		 referrer, language, user_agent, screen_width, screen_height, metadata, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert analytics events: %w", err)
	}
	return nil
}

// InsertFunnelProgress persists a batch of progress records with a single
// multi-row insert.
func (p *Postgres) InsertFunnelProgress(ctx context.Context, records []FunnelProgress) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 7
	placeholders := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}

		placeholders = append(placeholders, rowPlaceholder(i*cols+1, cols))
		args = append(args,
			r.ID, r.SessionID, r.FunnelID, r.CurrentStep,
			r.Completed, r.CompletedAt, r.CreatedAt,
		)
	}

	query := `INSERT INTO funnel_progress
		(id, session_id, funnel_id, current_step, completed, completed_at, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert funnel progress: %w", err)
	}
	return nil
}

// LatestFunnelProgress returns the most recently created record for the
// session and funnel, or nil if none exists.
func (p *Postgres) LatestFunnelProgress(ctx context.Context, sessionID, funnelID string) (*FunnelProgress, error) {
	query := `SELECT id, session_id, funnel_id, current_step, completed, completed_at, created_at
		FROM funnel_progress
		WHERE session_id = $1 AND funnel_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var r FunnelProgress
	err := p.db.QueryRowContext(ctx, query, sessionID, funnelID).Scan(
		&r.ID, &r.SessionID, &r.FunnelID, &r.CurrentStep,
		&r.Completed, &r.CompletedAt, &r.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest funnel progress: %w", err)
	}
	return &r, nil
}

// ListActiveFunnelDefinitions loads all active funnels with their steps
// ordered by step number.
func (p *Postgres) ListActiveFunnelDefinitions(ctx context.Context) ([]funnel.Definition, error) {
	query := `SELECT f.id, f.name, s.step_number, s.step_name,
			COALESCE(s.page_path, ''), s.event_type, COALESCE(s.event_name, '')
		FROM funnels f
		JOIN funnel_steps s ON s.funnel_id = f.id
		WHERE f.is_active
		ORDER BY f.id, s.step_number`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list funnel definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []funnel.Definition
	byID := make(map[string]int)

	for rows.Next() {
		var funnelID, funnelName string
		var step funnel.Step
		if err := rows.Scan(&funnelID, &funnelName, &step.StepNumber, &step.StepName,
			&step.PagePath, &step.EventType, &step.EventName); err != nil {
			return nil, fmt.Errorf("failed to scan funnel step: %w", err)
		}

		idx, ok := byID[funnelID]
		if !ok {
			defs = append(defs, funnel.Definition{ID: funnelID, Name: funnelName})
			idx = len(defs) - 1
			byID[funnelID] = idx
		}
		defs[idx].Steps = append(defs[idx].Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate funnel definitions: %w", err)
	}
	return defs, nil
}

// rowPlaceholder builds "($n, $n+1, ...)" for one row of a multi-row insert.
func rowPlaceholder(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt32 {
	return sql.NullInt32{Int32: int32(n), Valid: n != 0}
}
