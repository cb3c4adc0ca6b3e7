package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	registry := prometheus.NewRegistry()
	if _, err := NewDrainMetrics(registry); err != nil {
		t.Fatalf("NewDrainMetrics failed: %v", err)
	}

	s := NewServer(ServerConfig{
		AuthToken: token,
		Gatherer:  registry,
		Status: func() any {
			return map[string]string{"phase": "AWAIT_RUNNING_DRAIN"}
		},
	}, nil)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestServer_Endpoints(t *testing.T) {
	srv := newTestServer(t, "")

	t.Run("healthz", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/healthz", "")
		if resp.StatusCode != http.StatusOK || body != "ok" {
			t.Errorf("got %d %q", resp.StatusCode, body)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/metrics", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "drainwatch_drain_phase") {
			t.Error("expected drainwatch_drain_phase in /metrics output")
		}
	})

	t.Run("status", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/status", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		var status map[string]string
		if err := json.Unmarshal([]byte(body), &status); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if status["phase"] != "AWAIT_RUNNING_DRAIN" {
			t.Errorf("unexpected status %v", status)
		}
	})
}

func TestServer_StatusUnavailable(t *testing.T) {
	s := NewServer(ServerConfig{Gatherer: prometheus.NewRegistry()}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/status", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestServer_Auth(t *testing.T) {
	srv := newTestServer(t, "secret")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"healthz is open", "/healthz", "", http.StatusOK},
		{"metrics is open", "/metrics", "", http.StatusOK},
		{"status without token", "/status", "", http.StatusUnauthorized},
		{"status with wrong scheme", "/status", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"status with wrong token", "/status", "Bearer nope", http.StatusUnauthorized},
		{"status with token", "/status", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(ServerConfig{Address: "127.0.0.1:0", Gatherer: prometheus.NewRegistry()}, nil)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.server.ListenAndServe() }()

	select {
	case err := <-done:
		if err != http.ErrServerClosed {
			t.Errorf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("expected server to be closed after context cancel")
	}
}
