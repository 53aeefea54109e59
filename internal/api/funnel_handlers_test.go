package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bargn-app/pulse/internal/funnel"
	"github.com/bargn-app/pulse/internal/store"
)

func TestGetFunnels_EmptyBeforeLoad(t *testing.T) {
	h := NewFunnelHandlers(funnel.NewCache(testLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/funnels", nil)
	rec := httptest.NewRecorder()
	h.GetFunnels(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp FunnelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Loaded {
		t.Error("loaded should be false before the startup load")
	}
	if len(resp.Funnels) != 0 {
		t.Errorf("expected empty funnels, got %d", len(resp.Funnels))
	}
}

func TestGetFunnels_ReturnsActiveDefinitions(t *testing.T) {
	st := store.NewMemory()
	st.AddFunnelDefinition(funnel.Definition{
		ID:   "funnel-1",
		Name: "membership signup",
		Steps: []funnel.Step{
			{StepNumber: 1, StepName: "view pricing", PagePath: "/pricing", EventType: funnel.EventPageView},
			{StepNumber: 2, StepName: "start checkout", EventType: funnel.EventButtonClick, EventName: "checkout_cta"},
		},
	})

	cache := funnel.NewCache(testLogger())
	cache.Load(context.Background(), st)

	h := NewFunnelHandlers(cache)
	req := httptest.NewRequest(http.MethodGet, "/api/funnels", nil)
	rec := httptest.NewRecorder()
	h.GetFunnels(rec, req)

	var resp FunnelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Loaded {
		t.Error("loaded should be true after a successful load")
	}
	if len(resp.Funnels) != 1 {
		t.Fatalf("expected 1 funnel, got %d", len(resp.Funnels))
	}
	if resp.Funnels[0].ID != "funnel-1" {
		t.Errorf("funnel ID = %q, want funnel-1", resp.Funnels[0].ID)
	}
	if len(resp.Funnels[0].Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(resp.Funnels[0].Steps))
	}
}

func TestGetFunnels_MethodNotAllowed(t *testing.T) {
	h := NewFunnelHandlers(funnel.NewCache(testLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/funnels", nil)
	rec := httptest.NewRecorder()
	h.GetFunnels(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
