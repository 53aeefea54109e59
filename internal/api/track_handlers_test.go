package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bargn-app/pulse/internal/funnel"
	"github.com/bargn-app/pulse/internal/session"
	"github.com/bargn-app/pulse/internal/store"
	"github.com/bargn-app/pulse/internal/tracker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type trackFixture struct {
	handler *TrackHandlers
	store   *store.Memory
	hub     *tracker.Hub
}

func newTrackFixture(t *testing.T) *trackFixture {
	t.Helper()
	st := store.NewMemory()
	hub := tracker.NewHub(tracker.HubConfig{Store: st, Logger: testLogger()})
	t.Cleanup(hub.Close)
	return &trackFixture{
		handler: NewTrackHandlers(hub, session.NewMemory(), testLogger()),
		store:   st,
		hub:     hub,
	}
}

func postTrack(f *trackFixture, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/track", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	f.handler.PostTrack(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestPostTrack_MethodNotAllowed(t *testing.T) {
	f := newTrackFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/track", nil)
	rec := httptest.NewRecorder()
	f.handler.PostTrack(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestPostTrack_InvalidBody(t *testing.T) {
	f := newTrackFixture(t)
	rec := postTrack(f, "{not json", func(r *http.Request) {
		r.Header.Set(SessionKeyHeader, "key-1")
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeBadRequest)
	}
}

func TestPostTrack_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing event_type", `{"event_name":"x"}`},
		{"page_view without path", `{"event_type":"page_view"}`},
		{"click without name", `{"event_type":"button_click"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTrackFixture(t)
			rec := postTrack(f, tt.body, func(r *http.Request) {
				r.Header.Set(SessionKeyHeader, "key-1")
			})

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Error.Code != ErrCodeValidation {
				t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeValidation)
			}
		})
	}
}

func TestPostTrack_MissingSessionKey(t *testing.T) {
	f := newTrackFixture(t)
	rec := postTrack(f, `{"event_type":"page_view","page_path":"/pricing"}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeMissingSession {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeMissingSession)
	}
}

func TestPostTrack_AcceptsAndStoresEvent(t *testing.T) {
	f := newTrackFixture(t)
	rec := postTrack(f, `{"event_type":"page_view","page_path":"/pricing","page_title":"Pricing","screen_width":1280,"screen_height":800}`,
		func(r *http.Request) {
			r.Header.Set(SessionKeyHeader, "key-1")
			r.Header.Set("User-Agent", "pulse-test/1.0")
			r.Header.Set("Referer", "https://bargn.app/")
			r.Header.Set("Accept-Language", "fi-FI")
		})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body.String())
	}

	// Session cookie is refreshed on every accepted event
	cookies := rec.Result().Cookies()
	var sessionCookie *http.Cookie
	for _, c := range cookies {
		if c.Name == SessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected pulse_session cookie on response")
	}
	if sessionCookie.Value != "key-1" {
		t.Errorf("cookie value = %q, want key-1", sessionCookie.Value)
	}

	// Close flushes all pending trackers synchronously
	f.hub.Close()

	events := f.store.AnalyticsEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	ev := events[0]
	if ev.EventType != funnel.EventPageView {
		t.Errorf("event type = %q, want page_view", ev.EventType)
	}
	if ev.PagePath != "/pricing" {
		t.Errorf("page path = %q, want /pricing", ev.PagePath)
	}
	if ev.UserAgent != "pulse-test/1.0" {
		t.Errorf("user agent = %q", ev.UserAgent)
	}
	if ev.Referrer != "https://bargn.app/" {
		t.Errorf("referrer = %q", ev.Referrer)
	}
	if ev.Language != "fi-FI" {
		t.Errorf("language = %q", ev.Language)
	}
	if ev.ScreenWidth != 1280 || ev.ScreenHeight != 800 {
		t.Errorf("screen = %dx%d, want 1280x800", ev.ScreenWidth, ev.ScreenHeight)
	}
}

func TestPostTrack_SameSessionSharesTracker(t *testing.T) {
	f := newTrackFixture(t)

	postTrack(f, `{"event_type":"page_view","page_path":"/pricing"}`, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "key-1"})
	})
	postTrack(f, `{"event_type":"button_click","event_name":"join_now","element_text":"Join now"}`, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "key-1"})
	})

	if f.hub.Len() != 1 {
		t.Errorf("hub has %d trackers, want 1", f.hub.Len())
	}

	f.hub.Close()

	events := f.store.AnalyticsEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(events))
	}
	if events[0].SessionID != events[1].SessionID {
		t.Error("events from the same client key should share a session ID")
	}
	if events[1].ElementText != "Join now" {
		t.Errorf("element text = %q", events[1].ElementText)
	}
}

func TestPostTrack_CookiePreferredOverHeader(t *testing.T) {
	f := newTrackFixture(t)

	postTrack(f, `{"event_type":"page_view","page_path":"/a"}`, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-key"})
		r.Header.Set(SessionKeyHeader, "header-key")
	})
	postTrack(f, `{"event_type":"page_view","page_path":"/b"}`, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-key"})
	})

	if f.hub.Len() != 1 {
		t.Errorf("hub has %d trackers, want 1 (cookie key should win)", f.hub.Len())
	}
}

func TestPostTrack_CustomEventDispatch(t *testing.T) {
	f := newTrackFixture(t)

	rec := postTrack(f, `{"event_type":"discount_revealed","event_name":"summer_deal","page_path":"/deals","metadata":{"discount_pct":40}}`,
		func(r *http.Request) {
			r.Header.Set(SessionKeyHeader, "key-1")
		})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	f.hub.Close()

	events := f.store.AnalyticsEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	if events[0].EventType != "discount_revealed" {
		t.Errorf("event type = %q, want discount_revealed", events[0].EventType)
	}
	if got := events[0].Metadata["discount_pct"]; got != float64(40) {
		t.Errorf("metadata discount_pct = %v, want 40", got)
	}
}

func TestValidateTrackRequest(t *testing.T) {
	valid := TrackRequest{EventType: "button_click", EventName: "cta"}
	if msg := validateTrackRequest(valid); msg != "" {
		t.Errorf("expected valid request, got %q", msg)
	}
	pageView := TrackRequest{EventType: "page_view", PagePath: "/"}
	if msg := validateTrackRequest(pageView); msg != "" {
		t.Errorf("expected valid page_view, got %q", msg)
	}
}
