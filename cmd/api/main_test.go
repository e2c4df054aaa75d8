package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plateo/feedengine/internal/auth"
	"github.com/plateo/feedengine/internal/config"
	"github.com/plateo/feedengine/internal/content"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func testConfig() *config.Config {
	return &config.Config{
		Port:                       8080,
		Env:                        "test",
		JWTSecret:                  testSecret,
		FeedDefaultLimit:           config.DefaultFeedLimit,
		FeedMaxLimit:               config.DefaultFeedMaxLimit,
		NearbyDefaultRadiusKm:      config.DefaultNearbyRadiusKm,
		RateLimitRequestsPerMinute: 3,
		MetricsEnabled:             true,
		TracingExporter:            config.DefaultTracingExporter,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config) (*httptest.Server, *content.InMemoryStore) {
	t.Helper()

	mem := content.NewInMemoryStore()
	st := &stores{catalog: mem, profiles: mem, views: mem}
	a, err := newApp(cfg, st, prometheus.NewRegistry(), discardLogger())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if a.localLimiter == nil {
		t.Fatal("expected in-memory limiter without Redis")
	}

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)
	return srv, mem
}

func bearer(t *testing.T, viewerID string) string {
	t.Helper()
	svc, err := auth.NewService(auth.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("auth.NewService() error = %v", err)
	}
	token, err := svc.IssueAccessToken(viewerID)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	return "Bearer " + token
}

func TestNewApp_Routes(t *testing.T) {
	srv, mem := newTestApp(t, testConfig())
	mem.AddPublisher(content.Publisher{ID: "pub-1", Name: "Noodle Bar", IsActive: true})
	itemID := mem.AddItem(content.Item{
		PublisherID: "pub-1",
		Title:       "Hand-pulled noodles",
		Category:    "asian",
		IsActive:    true,
		IsPublic:    true,
		CreatedAt:   time.Now().Add(-time.Hour),
	})

	tests := []struct {
		name       string
		method     string
		path       string
		viewer     string
		wantStatus int
	}{
		{name: "trending anonymous", method: http.MethodGet, path: "/feed/trending", wantStatus: http.StatusOK},
		{name: "personalized requires token", method: http.MethodGet, path: "/feed", wantStatus: http.StatusUnauthorized},
		{name: "personalized", method: http.MethodGet, path: "/feed", viewer: "viewer-1", wantStatus: http.StatusOK},
		{name: "record view", method: http.MethodPost, path: "/videos/" + itemID + "/views", viewer: "viewer-2", wantStatus: http.StatusCreated},
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "ready", method: http.MethodGet, path: "/ready", wantStatus: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatalf("NewRequest() error = %v", err)
			}
			if tt.viewer != "" {
				req.Header.Set("Authorization", bearer(t, tt.viewer))
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestNewApp_MetricsEndpoint(t *testing.T) {
	srv, _ := newTestApp(t, testConfig())

	resp, err := http.Get(srv.URL + "/feed/trending")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"feed_http_requests_total",
		"feed_view_event_upserts_total",
		"feed_rate_limit_requests_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestNewApp_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	srv, _ := newTestApp(t, cfg)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestNewApp_RateLimited(t *testing.T) {
	srv, _ := newTestApp(t, testConfig())

	var last *http.Response
	for i := 0; i < 4; i++ {
		resp, err := http.Get(srv.URL + "/feed/trending")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		last = resp
	}

	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", last.StatusCode, http.StatusTooManyRequests)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestNewApp_CORS(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	srv, _ := newTestApp(t, cfg)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/feed", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewApp_MissingSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""
	mem := content.NewInMemoryStore()
	st := &stores{catalog: mem, profiles: mem, views: mem}

	if _, err := newApp(cfg, st, prometheus.NewRegistry(), discardLogger()); err == nil {
		t.Fatal("expected error without a JWT secret")
	}
}

func TestOpenStores_InMemory(t *testing.T) {
	st, err := openStores(context.Background(), testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("openStores() error = %v", err)
	}
	defer st.Close()

	if st.db != nil || st.redis != nil {
		t.Error("expected no external connections")
	}
	if _, ok := st.catalog.(*content.InMemoryStore); !ok {
		t.Errorf("catalog = %T, want *content.InMemoryStore", st.catalog)
	}
}

func TestOpenStores_Seeded(t *testing.T) {
	cfg := testConfig()
	cfg.SeedDataPath = filepath.Join("..", "..", "configs", "seed.json")

	st, err := openStores(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("openStores() error = %v", err)
	}
	defer st.Close()

	items, err := st.catalog.Trending(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Trending() error = %v", err)
	}
	if len(items) == 0 {
		t.Error("seeded catalog serves no items")
	}
}

func TestOpenStores_InvalidSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(`{"items": [{"id": "i", "publisher_id": "ghost"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.SeedDataPath = path

	if _, err := openStores(context.Background(), cfg, discardLogger()); !errors.Is(err, content.ErrInvalidFixture) {
		t.Fatalf("expected ErrInvalidFixture, got %v", err)
	}
}

func TestOpenStores_InvalidRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "not-a-redis-url"

	if _, err := openStores(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for malformed REDIS_URL")
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "done"})
	})
	server := &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, server, ln, discardLogger()) }()

	respCh := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err != nil {
			respCh <- 0
			return
		}
		resp.Body.Close()
		respCh <- resp.StatusCode
	}()

	// Let the in-flight request reach the handler before shutting down.
	time.Sleep(100 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case code := <-respCh:
		if code != http.StatusOK {
			t.Errorf("in-flight request status = %d, want %d", code, http.StatusOK)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}

func TestServe_ListenerClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.Close()

	server := &http.Server{Handler: http.NewServeMux(), ReadHeaderTimeout: time.Second}
	if err := serve(context.Background(), server, ln, discardLogger()); err == nil {
		t.Fatal("expected error when the listener is closed")
	}
}
