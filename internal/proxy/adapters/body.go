package adapters

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/theamanone/encstream/internal/api"
	"github.com/theamanone/encstream/internal/proxy"
)

// readRequestBody reads the whole request body. The size limit is enforced by the
// RequestSizeLimit middleware; exceeding it is reported as a request too large error.
func readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, api.NewRequestTooLargeError(
				fmt.Sprintf("Request body exceeds maximum allowed size (%d bytes)", maxBytesErr.Limit))
		}
		return nil, api.WrapMalformedRequestError(err, "failed to read request body")
	}
	if len(body) == 0 {
		return nil, api.NewMalformedRequestError("request body is empty")
	}
	return body, nil
}

// respondSealed seals the forward target's response body and writes it with status 200.
func respondSealed(w http.ResponseWriter, r *http.Request, p *proxy.Pipeline, resp *proxy.ForwardResponse) {
	env, err := p.Seal(resp.Body)
	if err != nil {
		api.RespondWithErrorResponse(w, r, api.WrapUpstreamError(err, "failed to seal forward target response"))
		return
	}
	w.Header().Set(api.HeaderEncrypted, "true")
	api.RespondWithEnvelope(w, env, resp.StatusCode)
}
