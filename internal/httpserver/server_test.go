package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"guilddj/internal/core"
)

func TestCreateHTTPServer(t *testing.T) {
	config := &core.ServerConfig{
		Host:         "0.0.0.0",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	mux := http.NewServeMux()
	server := createHTTPServer(config, mux)

	if server.Addr != "0.0.0.0:9090" {
		t.Errorf("createHTTPServer() Addr = %q, expected %q", server.Addr, "0.0.0.0:9090")
	}

	if server.ReadTimeout != config.ReadTimeout {
		t.Errorf("createHTTPServer() ReadTimeout = %v, expected %v", server.ReadTimeout, config.ReadTimeout)
	}

	if server.WriteTimeout != config.WriteTimeout {
		t.Errorf("createHTTPServer() WriteTimeout = %v, expected %v", server.WriteTimeout, config.WriteTimeout)
	}
}

func TestSetupRoutes(t *testing.T) {
	mux := setupRoutes(NewMetrics(), zap.NewNop())
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	client := &http.Client{}

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/"} {
		req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+path, http.NoBody)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Failed to call %s: %v", path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned status %d, expected %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestHealthzEndpoint(t *testing.T) {
	mux := setupRoutes(NewMetrics(), zap.NewNop())
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/healthz", http.NoBody)
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatalf("Failed to call /healthz: %v", err)
	}
	defer resp.Body.Close()

	if contentType := resp.Header.Get("Content-Type"); contentType != "application/json" {
		t.Errorf("/healthz Content-Type = %q, expected application/json", contentType)
	}

	body, _ := io.ReadAll(resp.Body)
	expected := `{"status":"ok","service":"guilddj"}`
	if string(body) != expected {
		t.Errorf("Expected body %q, got %q", expected, string(body))
	}
}

func TestHomeHandler(t *testing.T) {
	handler := homeHandler(zap.NewNop())

	req := httptest.NewRequest("GET", "/", http.NoBody)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, element := range []string{"<!DOCTYPE html>", "guilddj", "/metrics", "/healthz", "/readyz"} {
		if !strings.Contains(body, element) {
			t.Errorf("Expected body to contain %q", element)
		}
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordRequest("track")
	metrics.RecordResolution("ok")
	metrics.RecordSkip("immediate")
	metrics.RecordSmartPick("picked")
	metrics.SetActiveGuilds(2)
	metrics.SetQueuedTracks(7)

	mux := setupRoutes(metrics, zap.NewNop())
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL+"/metrics", http.NoBody)
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatalf("Failed to call /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	output := string(body)

	for _, metric := range []string{
		`guilddj_requests_total{kind="track"} 1`,
		`guilddj_resolutions_total{status="ok"} 1`,
		`guilddj_skips_total{outcome="immediate"} 1`,
		`guilddj_smart_picks_total{status="picked"} 1`,
		`guilddj_active_guilds 2`,
		`guilddj_queued_tracks 7`,
	} {
		if !strings.Contains(output, metric) {
			t.Errorf("Expected metrics output to contain %q", metric)
		}
	}
}

func TestNewMetricsIsIsolated(t *testing.T) {
	// two instances must not collide, each carries its own registry
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.RecordRequest("track")
	m2.RecordRequest("track")
	m2.RecordRequest("playlist")
}
