//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/client"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/proxy"
)

// newEchoTarget starts a forward target that returns the request it received as JSON.
func newEchoTarget(t *testing.T) *httptest.Server {
	t.Helper()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body any
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"body":   body,
		})
	}))
	t.Cleanup(target.Close)
	return target
}

func TestSealedProxy_ClientRoundTrip(t *testing.T) {
	target := newEchoTarget(t)
	env := startInProcessServer(t, setupTestDatabase(t), map[string]string{
		"ALLOWED_TARGET_PREFIXES": target.URL + "/",
	})

	c, err := client.New(testSecret, env.baseURL+"/api/proxy")
	if err != nil {
		t.Fatalf("client.New() error: %v", err)
	}

	body := `{"name":"widget","tags":["a","b"]}`
	resp, err := c.MakeSecureRequest(context.Background(), target.URL+"/items", proxy.RequestInit{
		Method: http.MethodPost,
		Body:   &body,
	})
	if err != nil {
		t.Fatalf("MakeSecureRequest() error: %v", err)
	}
	if resp.UpstreamStatus != http.StatusOK {
		t.Errorf("UpstreamStatus = %d, want 200", resp.UpstreamStatus)
	}

	got, _ := resp.Data.(map[string]any)
	if got["method"] != http.MethodPost || got["path"] != "/items" {
		t.Errorf("target saw %#v", got)
	}
	if b, _ := got["body"].(map[string]any); b["name"] != "widget" {
		t.Errorf("target body = %#v", got["body"])
	}

	t.Run("target outside the allow list", func(t *testing.T) {
		_, err := c.MakeSecureRequest(context.Background(), "http://example.invalid/x", proxy.RequestInit{})
		var respErr *client.ResponseError
		if !errors.As(err, &respErr) {
			t.Fatalf("error = %v, want *client.ResponseError", err)
		}
		if respErr.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", respErr.StatusCode)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := client.New("another-integration-secret-32chr!", env.baseURL+"/api/proxy")
		if err != nil {
			t.Fatal(err)
		}
		_, err = other.MakeSecureRequest(context.Background(), target.URL+"/items", proxy.RequestInit{})
		var respErr *client.ResponseError
		if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusBadRequest {
			t.Fatalf("error = %v, want 400 response error", err)
		}
		if respErr.ErrorResponse == nil || len(respErr.ErrorResponse.Errors) == 0 || respErr.ErrorResponse.Errors[0].ErrorCode != api.ErrCodeAuthentication {
			t.Errorf("error response = %+v", respErr.ErrorResponse)
		}
	})
}

func TestRelay_Replay(t *testing.T) {
	target := newEchoTarget(t)
	pool := setupTestDatabase(t)
	env := startInProcessServer(t, pool, nil)

	sealed, err := crypto.Seal(testSecret, map[string]any{"amount": 10})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	data, _ := json.Marshal(sealed)
	reqBody, _ := json.Marshal(proxy.RelayRequest{Target: target.URL + "/pay", Data: data})

	post := func(baseURL string) *http.Response {
		t.Helper()
		resp, err := http.Post(baseURL+"/v1/relay", "application/json", bytes.NewReader(reqBody))
		if err != nil {
			t.Fatalf("POST /v1/relay: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post(env.baseURL)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 200 (%s)", resp.StatusCode, b)
	}
	if resp.Header.Get(api.HeaderUpstreamStatus) != strconv.Itoa(http.StatusOK) {
		t.Errorf("%s = %q", api.HeaderUpstreamStatus, resp.Header.Get(api.HeaderUpstreamStatus))
	}

	var reply crypto.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("response is not an envelope: %v", err)
	}
	opened, err := crypto.Open(testSecret, &reply)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if m, _ := opened.(map[string]any); m["path"] != "/pay" {
		t.Errorf("opened reply = %#v", opened)
	}

	if resp := post(env.baseURL); resp.StatusCode != http.StatusConflict {
		t.Errorf("replayed envelope status = %d, want 409", resp.StatusCode)
	}

	// a second server sharing the postgres store also rejects the envelope
	if pool != nil {
		second := startInProcessServer(t, pool, nil)
		if resp := post(second.baseURL); resp.StatusCode != http.StatusConflict {
			t.Errorf("replay on second server status = %d, want 409", resp.StatusCode)
		}
	}
}

func TestInfrastructureEndpoints(t *testing.T) {
	env := startInProcessServer(t, setupTestDatabase(t), nil)

	tests := []struct {
		path     string
		wantBody string
	}{
		{"/health/live", "OK"},
		{"/health/ready", "ready"},
		{"/version", "encstream-server"},
		{"/metrics", "encstream_"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(env.baseURL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()

			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if !strings.Contains(string(b), tt.wantBody) {
				t.Errorf("body %q does not contain %q", b, tt.wantBody)
			}
		})
	}
}
