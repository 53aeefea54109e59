// Package main contains integration tests for the ingest server wiring.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bargn-app/pulse/internal/api"
	"github.com/bargn-app/pulse/internal/middleware"
	"github.com/bargn-app/pulse/internal/session"
	"github.com/bargn-app/pulse/internal/store"
	"github.com/bargn-app/pulse/internal/tracker"
)

// newTestServer assembles the same handler chain as main, backed by
// in-memory implementations, and returns its base URL.
func newTestServer(t *testing.T) (string, *http.Server, *store.Memory) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	hub := tracker.NewHub(tracker.HubConfig{Store: st, Logger: logger})
	t.Cleanup(hub.Close)

	trackHandlers := api.NewTrackHandlers(hub, session.NewMemory(), logger)
	funnelHandlers := api.NewFunnelHandlers(hub.Funnels())
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/track", trackHandlers.PostTrack)
	mux.HandleFunc("/api/funnels", funnelHandlers.GetFunnels)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)

	handler := middleware.RequestID(middleware.Logging(logger)(mux))
	server := &http.Server{Handler: handler}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
	}()

	return fmt.Sprintf("http://%s", listener.Addr().String()), server, st
}

func TestServer_HealthAndShutdown(t *testing.T) {
	baseURL, server, _ := newTestServer(t)

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request ID header on response")
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("graceful shutdown failed: %v", err)
	}
}

func TestServer_TrackRoundTrip(t *testing.T) {
	baseURL, server, st := newTestServer(t)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/track",
		strings.NewReader(`{"event_type":"page_view","page_path":"/deals"}`))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.SessionKeyHeader, "roundtrip-key")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("track request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("track status = %d, want 202", resp.StatusCode)
	}

	// The debounced flush fires shortly after the batch delay
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(st.AnalyticsEvents()) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected 1 stored event, got %d", len(st.AnalyticsEvents()))
}
