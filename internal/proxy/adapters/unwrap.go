package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/proxy"
)

// Unwrap returns a middleware that replaces sealed POST bodies with the decrypted JSON.
//
// Requests with any other method are passed through untouched. A POST body that is not a
// fresh, authentic envelope is rejected before next is called.
func Unwrap(p *proxy.Pipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readRequestBody(r)
			if err != nil {
				api.RespondWithErrorResponse(w, r, err)
				return
			}

			var payload json.RawMessage
			if err := p.UnsealInto(r.Context(), body, &payload); err != nil {
				api.RespondWithErrorResponse(w, r, err)
				return
			}

			unwrapped := r.Clone(r.Context())
			unwrapped.Body = io.NopCloser(bytes.NewReader(payload))
			unwrapped.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(payload)), nil
			}
			unwrapped.ContentLength = int64(len(payload))
			unwrapped.Header.Set("Content-Type", "application/json")
			unwrapped.Header.Set("Content-Length", strconv.Itoa(len(payload)))
			unwrapped.Header.Del(api.HeaderEncryptionTimestamp)
			unwrapped.Header.Del(api.HeaderEncryptionSignature)

			next.ServeHTTP(w, unwrapped)
		})
	}
}

// UpstreamOptions configures NewUpstreamProxy.
type UpstreamOptions struct {
	// StripPrefix is removed from the inbound path before it is joined to the upstream URL.
	StripPrefix string

	// SealResponses seals JSON responses from the upstream.
	SealResponses bool

	// MaxResponseBytes limits sealed responses (default crypto.MaxPayloadSize).
	MaxResponseBytes int64

	// Transport is the round tripper used for upstream requests (http.DefaultTransport when nil).
	Transport http.RoundTripper
}

// NewUpstreamProxy returns a handler that decrypts sealed POST bodies (see Unwrap) and
// reverse proxies the request to upstream.
func NewUpstreamProxy(upstream *url.URL, p *proxy.Pipeline, opts UpstreamOptions) http.Handler {
	maxResponseBytes := opts.MaxResponseBytes
	if maxResponseBytes <= 0 {
		maxResponseBytes = crypto.MaxPayloadSize
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if opts.StripPrefix != "" {
				path := strings.TrimPrefix(pr.Out.URL.Path, opts.StripPrefix)
				if !strings.HasPrefix(path, "/") {
					path = "/" + path
				}
				pr.Out.URL.Path = path
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(upstream)
			pr.SetXForwarded()

			// the body has to be readable to be sealed
			if opts.SealResponses {
				pr.Out.Header.Del("Accept-Encoding")
			}
		},
		Transport: opts.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			api.RespondWithErrorResponse(w, r, api.WrapUpstreamError(err, "upstream request failed"))
		},
	}

	if opts.SealResponses {
		rp.ModifyResponse = func(resp *http.Response) error {
			return sealResponse(resp, p, maxResponseBytes)
		}
	}

	return Unwrap(p)(rp)
}

// sealResponse replaces a JSON response body with a sealed envelope. Other responses are left alone.
func sealResponse(resp *http.Response, p *proxy.Pipeline, maxBytes int64) error {
	if !isJSONContentType(resp.Header.Get("Content-Type")) {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read upstream response: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return fmt.Errorf("upstream response exceeds %d bytes", maxBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return nil
	}
	if !json.Valid(body) {
		return fmt.Errorf("upstream response is not valid JSON")
	}

	env, err := p.Seal(json.RawMessage(body))
	if err != nil {
		return err
	}
	sealed, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode sealed response: %w", err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(sealed))
	resp.ContentLength = int64(len(sealed))
	resp.Header.Set("Content-Length", strconv.Itoa(len(sealed)))
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Set(api.HeaderEncrypted, "true")
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("ETag")
	return nil
}

func isJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
