package api

// responses.go provides helper functions for sending HTTP responses from the API handlers.

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/logger"
)

// RespondWithErrorResponse sends an error response as a JSON payload.
//
// It logs the full error details server-side and sends a sanitized response to the client.
// Signature mismatches are logged as possible tampering.
func RespondWithErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse := MapErrorToResponse(err, r)

	reqLogger := logger.ContextRequestLogger(r.Context())
	attrs := []any{
		slog.String("error", err.Error()),
		slog.Int("status_code", errorResponse.StatusCode),
		slog.String("error_code_text", errorResponse.StatusCodeMessage),
		slog.String("request_id", errorResponse.ProviderCorrelationReference),
	}
	if crypto.IsAuthenticationError(err) {
		reqLogger.Warn("Envelope authentication failed - possible tampering", append(attrs,
			slog.String("remote_addr", r.RemoteAddr))...)
	} else {
		reqLogger.Warn("Request failed", attrs...)
	}

	logger.ContextWithLogAttrs(r.Context(),
		slog.Int("error_code", int(errorResponse.Errors[0].ErrorCode)),
	)

	RespondWithJSONPayload(w, errorResponse.StatusCode, errorResponse)
}

// RespondWithJSONPayload sends a JSON response with the given status code
func RespondWithJSONPayload(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			// If encoding fails, log it but don't try to send another response
			// (headers are already written)
			slog.Error("Failed to encode JSON response",
				slog.String("error", err.Error()),
			)
		}
	}
}

// RespondWithEnvelope sends a sealed envelope as the response body.
// upstreamStatus is reported in the X-Upstream-Status header when non-zero.
func RespondWithEnvelope(w http.ResponseWriter, env *crypto.Envelope, upstreamStatus int) {
	if upstreamStatus != 0 {
		w.Header().Set(HeaderUpstreamStatus, strconv.Itoa(upstreamStatus))
	}
	RespondWithJSONPayload(w, http.StatusOK, env)
}
