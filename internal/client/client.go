// Package client sends requests through an encstream sealed proxy.
//
// The client seals the whole request description (target, method, headers and body) so that
// only the proxy learns where the request goes, and opens the sealed response.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/proxy"
)

// Client talks to a sealed proxy endpoint (POST /api/proxy).
type Client struct {
	codec      *crypto.Codec
	validator  *crypto.Validator
	httpClient *http.Client
	proxyURL   string
	debugger   *Debugger
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used to reach the proxy.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithDebugger records every sealed request on d.
func WithDebugger(d *Debugger) Option {
	return func(c *Client) {
		c.debugger = d
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMaxAge sets the freshness window applied to sealed responses (default crypto.DefaultMaxAge).
func WithMaxAge(maxAge time.Duration) Option {
	return func(c *Client) {
		c.validator = crypto.NewValidator(maxAge)
	}
}

// New creates a client for the sealed proxy at proxyURL.
func New(secret, proxyURL string, opts ...Option) (*Client, error) {
	codec, err := crypto.NewCodec(secret)
	if err != nil {
		return nil, err
	}
	if proxyURL == "" {
		return nil, errors.New("proxy URL is required")
	}

	c := &Client{
		codec:      codec,
		validator:  crypto.NewValidator(crypto.DefaultMaxAge),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		proxyURL:   proxyURL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Response is the opened reply to a secure request.
type Response struct {
	// UpstreamStatus is the forward target's status code (0 if the proxy did not report one).
	UpstreamStatus int

	// Data is the target's decoded JSON response.
	Data any
}

// ResponseError is returned when the proxy refuses the request.
type ResponseError struct {
	StatusCode int

	// ErrorResponse is the decoded error body, nil if the body was not an error response.
	ErrorResponse *api.ErrorResponse
}

func (e *ResponseError) Error() string {
	if e.ErrorResponse != nil && len(e.ErrorResponse.Errors) > 0 {
		d := e.ErrorResponse.Errors[0]
		return fmt.Sprintf("proxy returned %d: %s (%d): %s", e.StatusCode, d.ErrorCodeText, d.ErrorCode, d.ErrorCodeMessage)
	}
	return fmt.Sprintf("proxy returned %d", e.StatusCode)
}

// MakeSecureRequest asks the proxy to make the request described by reqInit against endpoint.
//
// The method defaults to GET and Content-Type to application/json.
func (c *Client) MakeSecureRequest(ctx context.Context, endpoint string, reqInit proxy.RequestInit) (*Response, error) {
	if reqInit.Method == "" {
		reqInit.Method = http.MethodGet
	}
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range reqInit.Headers {
		headers[k] = v
	}
	reqInit.Headers = headers

	env, err := c.EncryptRequest(proxy.ProxyRequest{Target: endpoint, Data: reqInit})
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.proxyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderEncryptionTimestamp, strconv.FormatInt(env.Timestamp, 10))
	req.Header.Set(api.HeaderEncryptionSignature, env.Signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 2*crypto.MaxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respErr := &ResponseError{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && len(errResp.Errors) > 0 {
			respErr.ErrorResponse = &errResp
		}
		c.logger.Debug("secure request refused",
			slog.Int("status", resp.StatusCode),
			slog.String("error", respErr.Error()),
		)
		return nil, respErr
	}

	sealed, reason := c.validator.Inspect(respBody)
	if reason != crypto.ReasonNone {
		return nil, crypto.NewRejectedError(reason)
	}

	data, err := c.DecryptResponse(sealed)
	if err != nil {
		return nil, err
	}

	upstreamStatus, _ := strconv.Atoi(resp.Header.Get(api.HeaderUpstreamStatus))
	return &Response{UpstreamStatus: upstreamStatus, Data: data}, nil
}

// EncryptRequest seals v with the client's secret.
func (c *Client) EncryptRequest(v any) (*crypto.Envelope, error) {
	start := time.Now()
	env, err := c.codec.Seal(v)
	if err != nil {
		return nil, err
	}

	c.debugger.Log(DebugInfo{
		OriginalData:  v,
		EncryptedData: env,
		Timestamp:     start,
		Duration:      time.Since(start),
	})
	return env, nil
}

// DecryptResponse opens a sealed response.
func (c *Client) DecryptResponse(env *crypto.Envelope) (any, error) {
	return c.codec.Open(env)
}
