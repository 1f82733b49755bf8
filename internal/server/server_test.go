package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/config"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/proxy"
)

const testSecret = "test-secret-key-32-chars-length!"

func testConfig() *config.ServerEnvironment {
	return &config.ServerEnvironment{
		Environment:           "test",
		Host:                  "127.0.0.1",
		Port:                  8080,
		ServerShutdownTimeout: time.Second,
		RequestTimeout:        5 * time.Second,
		RateLimitRPS:          0,
		MaxRequestBodyBytes:   1 << 20,
		MaxAge:                time.Minute,
		Secret:                testSecret,
		UpstreamTimeout:       5 * time.Second,
		ReplayStore:           "memory",
		ReplayFilterSizeLog2:  16,
	}
}

func newTestServer(t *testing.T, cfg *config.ServerEnvironment) *Server {
	t.Helper()
	s, err := NewServer(nil, cfg, logger.NewLogger(io.Discard, slog.LevelDebug, "test"))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestServer_InfrastructureRoutes(t *testing.T) {
	s := newTestServer(t, testConfig())

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/health/live", http.StatusOK, "OK"},
		{"/health/ready", http.StatusOK, `"ready"`},
		{"/version", http.StatusOK, `"service":"encstream-server"`},
		{"/metrics", http.StatusOK, "encstream_envelopes_opened_total"},
		{"/unknown", http.StatusNotFound, ""},
	}

	// make sure the opened counter has a sample to export
	s.metrics.EnvelopeOpened("ok")

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rr.Body.String(), tt.wantBody)
			}
			if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Error("security headers not applied")
			}
		})
	}
}

func TestServer_SealedProxyRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Hello, World!","number":42,"nested":{"value":true}}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.AllowedTargetPrefixes = []string{upstream.URL + "/"}
	s := newTestServer(t, cfg)

	env, err := crypto.Seal(testSecret, proxy.ProxyRequest{Target: upstream.URL + "/greeting", Data: proxy.RequestInit{Method: "GET"}})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	body, _ := json.Marshal(env)

	newRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/proxy", bytes.NewReader(body))
		req.Header.Set(api.HeaderEncryptionTimestamp, strconv.FormatInt(env.Timestamp, 10))
		req.Header.Set(api.HeaderEncryptionSignature, env.Signature)
		return req
	}

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, newRequest())
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(api.HeaderUpstreamStatus) != "200" {
		t.Errorf("%s = %q", api.HeaderUpstreamStatus, rr.Header().Get(api.HeaderUpstreamStatus))
	}

	var sealed crypto.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &sealed); err != nil {
		t.Fatalf("response is not an envelope: %v", err)
	}
	got, err := crypto.Open(testSecret, &sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if m, _ := got.(map[string]any); m["number"] != float64(42) {
		t.Errorf("opened response = %#v", got)
	}

	// the memory replay guard rejects the same request
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, newRequest())
	if rr.Code != http.StatusConflict {
		t.Errorf("replayed request status = %d, want 409", rr.Code)
	}
}

func TestServer_RequestTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequestBodyBytes = 32
	s := newTestServer(t, cfg)

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/relay", strings.NewReader(strings.Repeat("x", 64))))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestServer_UpstreamRoute(t *testing.T) {
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	t.Run("disabled without UPSTREAM_URL", func(t *testing.T) {
		s := newTestServer(t, testConfig())
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/upstream/x", nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.UpstreamURL = upstream.URL
		s := newTestServer(t, cfg)

		env, err := crypto.Seal(testSecret, []int{1, 2, 3})
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		body, _ := json.Marshal(env)

		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/upstream/items", bytes.NewReader(body)))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204 (%s)", rr.Code, rr.Body.String())
		}
		if gotBody != "[1,2,3]" {
			t.Errorf("upstream body = %q", gotBody)
		}
	})
}

func TestNewServer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.ServerEnvironment)
	}{
		{"no secret", func(c *config.ServerEnvironment) { c.Secret = "" }},
		{"missing key file", func(c *config.ServerEnvironment) {
			c.Secret = ""
			c.SecretKeyPath = t.TempDir() + "/missing.jwk"
		}},
		{"postgres without pool", func(c *config.ServerEnvironment) { c.ReplayStore = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)
			if _, err := NewServer(nil, cfg, logger.NewLogger(io.Discard, slog.LevelInfo, "test")); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewServer_SecretFromKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := crypto.SaveSecretToJWKFile(testSecret, "", dir, "secret.jwk"); err != nil {
		t.Fatalf("SaveSecretToJWKFile() error: %v", err)
	}

	cfg := testConfig()
	cfg.Secret = ""
	cfg.SecretKeyPath = dir + "/secret.jwk"
	s := newTestServer(t, cfg)

	// an envelope sealed with the literal secret opens with the key file secret
	env, err := crypto.Seal(testSecret, "x")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	raw, _ := json.Marshal(env)
	if _, err := s.pipeline.Unseal(t.Context(), raw); err != nil {
		t.Errorf("Unseal() error: %v", err)
	}
}
