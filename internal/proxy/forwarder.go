package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/metrics"
)

// ForwardRequest is a decrypted request to send to a target.
type ForwardRequest struct {
	Target string
	Method string
	Header http.Header

	// Body is sent as is; nil sends no body.
	Body []byte
}

// ForwardResponse is the target's reply. Body is the decoded JSON response (nil for an empty body).
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       any
}

// Forwarder sends a decrypted request to its target.
type Forwarder interface {
	Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error)
}

// HTTPForwarder forwards requests over HTTP to targets matching the allow list.
type HTTPForwarder struct {
	client           *http.Client
	allowedPrefixes  []string
	maxResponseBytes int64
	metrics          *metrics.Metrics
}

// ForwarderOption configures an HTTPForwarder.
type ForwarderOption func(*HTTPForwarder)

// WithAllowedPrefixes restricts targets to URLs starting with one of prefixes.
func WithAllowedPrefixes(prefixes []string) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.allowedPrefixes = prefixes
	}
}

// WithMaxResponseBytes limits the size of upstream responses (default crypto.MaxPayloadSize).
func WithMaxResponseBytes(n int64) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.maxResponseBytes = n
	}
}

// WithForwarderMetrics records upstream requests on m.
func WithForwarderMetrics(m *metrics.Metrics) ForwarderOption {
	return func(f *HTTPForwarder) {
		f.metrics = m
	}
}

// NewHTTPForwarder creates a forwarder using client (http.DefaultClient when nil).
func NewHTTPForwarder(client *http.Client, opts ...ForwarderOption) *HTTPForwarder {
	if client == nil {
		client = http.DefaultClient
	}
	f := &HTTPForwarder{
		client:           client,
		maxResponseBytes: crypto.MaxPayloadSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward sends req to its target and decodes the JSON response.
//
// Non-2xx responses are not errors: the status is returned to the caller, which reports it
// next to the sealed body. A response that is not JSON is an upstream error.
func (f *HTTPForwarder) Forward(ctx context.Context, req ForwardRequest) (*ForwardResponse, error) {
	target, err := f.CheckTarget(req.Target)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	upReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, api.WrapMalformedRequestError(err, "failed to create forward request")
	}
	copyHeaders(upReq.Header, req.Header)
	if req.Body != nil && upReq.Header.Get("Content-Type") == "" {
		upReq.Header.Set("Content-Type", "application/json")
	}
	upReq.Header.Set("Accept", "application/json")

	// propagate the inbound request id so upstream logs can be correlated
	requestID := middleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	upReq.Header.Set(middleware.RequestIDHeader, requestID)

	reqLogger := logger.ContextRequestLogger(ctx)

	start := time.Now()
	resp, err := f.client.Do(upReq)
	if err != nil {
		f.record(0, time.Since(start))
		return nil, api.WrapUpstreamError(err, "failed to reach forward target")
	}
	defer resp.Body.Close()
	f.record(resp.StatusCode, time.Since(start))

	respBody, err := readBodyLimited(resp.Body, f.maxResponseBytes)
	if err != nil {
		return nil, api.WrapUpstreamError(err, "failed to read forward target response")
	}

	reqLogger.Debug("forward target responded",
		slog.String("component", "HTTPForwarder"),
		slog.String("target_host", target.Host),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(respBody)),
	)

	var value any
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &value); err != nil {
			return nil, api.WrapUpstreamError(err,
				fmt.Sprintf("forward target returned a non-JSON response (status %d)", resp.StatusCode))
		}
	}

	return &ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       value,
	}, nil
}

// CheckTarget parses target and checks it against the allow list.
//
// Targets must be absolute http or https URLs. With an empty allow list any such target is accepted.
func (f *HTTPForwarder) CheckTarget(target string) (*url.URL, error) {
	if target == "" {
		return nil, api.NewMalformedRequestError("target is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, api.WrapMalformedRequestError(err, "target is not a valid URL")
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, api.NewMalformedRequestError("target must be an absolute URL")
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return nil, api.NewMalformedRequestError(fmt.Sprintf("unsupported target scheme %q", u.Scheme))
	}
	if u.User != nil {
		return nil, api.NewMalformedRequestError("target must not contain credentials")
	}

	if len(f.allowedPrefixes) == 0 {
		return u, nil
	}
	for _, prefix := range f.allowedPrefixes {
		if matchesPrefix(target, prefix) {
			return u, nil
		}
	}
	return nil, api.NewTargetNotAllowedError(fmt.Sprintf("target %s://%s is not allowed", u.Scheme, u.Host))
}

// matchesPrefix reports whether target starts with prefix on a boundary, so that
// "https://api.example.com" does not match "https://api.example.com.attacker.net".
func matchesPrefix(target, prefix string) bool {
	if !strings.HasPrefix(target, prefix) {
		return false
	}
	if len(target) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	switch target[len(prefix)] {
	case '/', '?', '#':
		return true
	}
	return false
}

func (f *HTTPForwarder) record(status int, d time.Duration) {
	if f.metrics != nil {
		f.metrics.UpstreamRequest(status, d)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHopHeader(k string) bool {
	switch strings.ToLower(k) {
	case "connection",
		"proxy-connection",
		"keep-alive",
		"proxy-authenticate",
		"proxy-authorization",
		"te",
		"trailer",
		"transfer-encoding",
		"upgrade",
		"host",
		"content-length":
		return true
	default:
		return false
	}
}

func readBodyLimited(r io.Reader, max int64) ([]byte, error) {
	lr := io.LimitReader(r, max+1)
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("body too large (max %d bytes)", max)
	}
	return b, nil
}
