// Package api provides HTTP API handlers for the Pulse ingest server.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bargn-app/pulse/internal/funnel"
	"github.com/bargn-app/pulse/internal/middleware"
	"github.com/bargn-app/pulse/internal/session"
	"github.com/bargn-app/pulse/internal/tracker"
)

// SessionCookieName is the cookie carrying the client's session key.
const SessionCookieName = "pulse_session"

// SessionKeyHeader is the fallback header for clients that cannot use cookies.
const SessionKeyHeader = "X-Session-Key"

// sessionCookieTTL matches the sliding session TTL in the session provider.
const sessionCookieTTL = 30 * time.Minute

// TrackHandlers provides the event ingest endpoint.
type TrackHandlers struct {
	hub      *tracker.Hub
	sessions session.Provider
	logger   *slog.Logger
}

// NewTrackHandlers creates a new track handler.
func NewTrackHandlers(hub *tracker.Hub, sessions session.Provider, logger *slog.Logger) *TrackHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackHandlers{hub: hub, sessions: sessions, logger: logger}
}

// TrackRequest represents the request payload for POST /api/track.
type TrackRequest struct {
	EventType    string         `json:"event_type"`
	EventName    string         `json:"event_name"`
	PagePath     string         `json:"page_path"`
	PageTitle    string         `json:"page_title"`
	ElementText  string         `json:"element_text"`
	Metadata     map[string]any `json:"metadata"`
	ScreenWidth  int            `json:"screen_width"`
	ScreenHeight int            `json:"screen_height"`
}

// PostTrack handles POST /api/track.
// It resolves the session's tracker and forwards the event. Pipeline
// failures never surface here; only malformed requests are rejected.
func (h *TrackHandlers) PostTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}

	if msg := validateTrackRequest(req); msg != "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	clientKey := sessionKeyFromRequest(r)
	if clientKey == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeMissingSession)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeMissingSession,
			"Session key required (pulse_session cookie or X-Session-Key header)")
		return
	}

	sessionID, err := h.sessions.GetOrCreate(ctx, clientKey)
	if err != nil {
		// Fail open: attribute events to the raw client key rather than
		// dropping them while the session store is unavailable.
		h.logger.WarnContext(ctx, "session resolution failed, using client key",
			"error", err)
		sessionID = clientKey
	}

	// Refresh the sliding session cookie
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    clientKey,
		Path:     "/",
		MaxAge:   int(sessionCookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	client := tracker.ClientInfo{
		Referrer:     r.Referer(),
		Language:     r.Header.Get("Accept-Language"),
		UserAgent:    r.UserAgent(),
		ScreenWidth:  req.ScreenWidth,
		ScreenHeight: req.ScreenHeight,
	}

	tr := h.hub.Resolve(sessionID, req.PagePath, client)
	dispatch(tr, req)

	ctx = middleware.SetSessionID(ctx, sessionID)
	middleware.UpdateResponseContext(w, ctx)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "accepted"}); err != nil {
		h.logger.ErrorContext(ctx, "failed to encode track response", "error", err)
	}
}

// validateTrackRequest checks payload shape. Returns an error message, or
// empty string when the request is valid.
func validateTrackRequest(req TrackRequest) string {
	if req.EventType == "" {
		return "event_type is required"
	}
	if req.EventType == funnel.EventPageView {
		if req.PagePath == "" {
			return "page_path is required for page_view events"
		}
		return ""
	}
	if req.EventName == "" {
		return "event_name is required"
	}
	return ""
}

// sessionKeyFromRequest extracts the client session key, preferring the
// cookie over the header.
func sessionKeyFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(SessionKeyHeader)
}

// dispatch routes the event to the matching tracker operation.
func dispatch(tr *tracker.Tracker, req TrackRequest) {
	switch req.EventType {
	case funnel.EventPageView:
		tr.TrackPageView(req.PagePath, req.PageTitle)
	case funnel.EventButtonClick:
		tr.TrackButtonClick(req.EventName, req.ElementText, req.Metadata)
	case funnel.EventFormSubmit:
		tr.TrackFormSubmit(req.EventName, req.Metadata)
	case funnel.EventNavigation:
		tr.TrackNavigation(req.EventName, req.ElementText)
	default:
		tr.TrackEvent(tracker.CustomEvent{
			EventType:   req.EventType,
			EventName:   req.EventName,
			PagePath:    req.PagePath,
			PageTitle:   req.PageTitle,
			ElementText: req.ElementText,
			Metadata:    req.Metadata,
		})
	}
}
