package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
)

// RelayRequest is the plaintext body of a relay request: the target is visible, the data is sealed.
type RelayRequest struct {
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data"`
}

// ProxyRequest is the sealed payload of a sealed proxy request. Both the target and the
// request description are inside the envelope.
type ProxyRequest struct {
	Target string      `json:"target"`
	Data   RequestInit `json:"data"`
}

// RequestInit describes the request to make on the caller's behalf.
type RequestInit struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Body is JSON text, as a fetch() body would be.
	Body *string `json:"body,omitempty"`
}

// Header converts the header map to an http.Header.
func (ri RequestInit) Header() http.Header {
	h := make(http.Header, len(ri.Headers))
	for k, v := range ri.Headers {
		h.Set(k, v)
	}
	return h
}

// ForwardRequest builds the forward request for target.
// The body, when present, must be JSON; it is re-encoded compactly.
func (ri RequestInit) ForwardRequest(target string) (ForwardRequest, error) {
	req := ForwardRequest{
		Target: target,
		Method: strings.ToUpper(ri.Method),
		Header: ri.Header(),
	}
	if ri.Body != nil {
		var body json.RawMessage
		if err := json.Unmarshal([]byte(*ri.Body), &body); err != nil {
			return ForwardRequest{}, err
		}
		compact, err := json.Marshal(body)
		if err != nil {
			return ForwardRequest{}, err
		}
		req.Body = compact
	}
	return req, nil
}
