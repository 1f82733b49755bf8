package api

// error_response.go implements the error response format for the encstream API
// it includes functions to map lower level errors to the error response returned to the client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/theamanone/encstream/internal/crypto"
	"github.com/theamanone/encstream/internal/logger"
)

// ErrorResponse is the error body returned by every endpoint
type ErrorResponse struct {

	// The HTTP method used to make the request e.g. GET, POST, etc
	HTTPMethod string `json:"httpMethod"`

	// The URI that was requested
	RequestURI string `json:"requestUri"`

	// The HTTP status code returned
	StatusCode int `json:"statusCode"`

	// A standard short description corresponding to the HTTP status code
	StatusCodeText string `json:"statusCodeText"`

	// A long description corresponding to the HTTP status code with additional information
	StatusCodeMessage string `json:"statusCodeMessage,omitempty"`

	// A unique identifier to the HTTP request within the scope of the API provider
	ProviderCorrelationReference string `json:"providerCorrelationReference,omitempty"`

	// The DateTime corresponding to the error occurring
	ErrorDateTime string `json:"errorDateTime"`

	// An array of errors providing more detail about the root cause
	Errors []DetailedError `json:"errors"`
}

// DetailedError represents a detailed error in the error response
type DetailedError struct {
	// 7000-7999 for technical errors, 8000-8999 for functional errors
	ErrorCode        ErrorCode `json:"errorCode"`
	Property         string    `json:"property,omitempty"`
	Value            string    `json:"value,omitempty"`
	ErrorCodeText    string    `json:"errorCodeText"`
	ErrorCodeMessage string    `json:"errorCodeMessage"`
}

// MapErrorToResponse maps api.ApiError, crypto.CryptoError, or generic errors to an error response.
//
// The mapping also establishes the appropriate HTTP status code based on the error type.
//
// Authentication, decryption and format failures are reported with a fixed message: the
// detail would tell an attacker which step of opening failed. The full error is logged server-side.
func MapErrorToResponse(err error, r *http.Request) *ErrorResponse {
	requestID := middleware.GetReqID(r.Context())

	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return errorResponseFromApi(apiErr, r, requestID)
	}

	var cryptoErr *crypto.CryptoError
	if errors.As(err, &cryptoErr) {
		return errorResponseFromCrypto(cryptoErr, r, requestID)
	}

	// fallback - this is not expected - if it does, return an internal error response and log the unmapped error
	reqLogger := logger.ContextRequestLogger(r.Context())
	reqLogger.Error("BUG: Unmapped error type in MapErrorToResponse",
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("error", err.Error()),
		slog.String("request_id", requestID),
	)
	return newErrorResponse(r, requestID, http.StatusInternalServerError, ErrCodeInternalError,
		"Internal Error", "An internal error occurred")
}

// errorResponseFromApi maps api.ApiError to error responses
func errorResponseFromApi(err *ApiError, r *http.Request, requestID string) *ErrorResponse {
	var statusCode int
	var errorCodeText string

	switch err.Code() {
	case ErrCodeMalformedRequest:
		statusCode = http.StatusBadRequest
		errorCodeText = "Malformed request"
	case ErrCodeUpstream:
		statusCode = http.StatusBadGateway
		errorCodeText = "Upstream error"
	case ErrCodeTargetNotAllowed:
		statusCode = http.StatusForbidden
		errorCodeText = "Target not allowed"
	case ErrCodeRateLimitExceeded:
		statusCode = http.StatusTooManyRequests
		errorCodeText = "Rate limit exceeded"
	case ErrCodeRequestTooLarge:
		statusCode = http.StatusRequestEntityTooLarge
		errorCodeText = "Request too large"
	default:
		return newErrorResponse(r, requestID, http.StatusInternalServerError, ErrCodeInternalError,
			"Internal Error", "An internal error occurred")
	}

	return newErrorResponse(r, requestID, statusCode, err.Code(), errorCodeText, err.Error())
}

// errorResponseFromCrypto maps crypto.CryptoError to error responses
func errorResponseFromCrypto(err *crypto.CryptoError, r *http.Request, requestID string) *ErrorResponse {
	var statusCode int
	var errorCode ErrorCode
	var errorCodeText string
	message := err.Error()

	switch err.Code() {
	case crypto.ErrCodeAuthentication:
		statusCode = http.StatusBadRequest
		errorCode = ErrCodeAuthentication
		errorCodeText = "Authentication failed"
		message = "envelope signature is not valid"
	case crypto.ErrCodeDecryption:
		statusCode = http.StatusBadRequest
		errorCode = ErrCodeDecryption
		errorCodeText = "Decryption failed"
		message = "envelope could not be decrypted"
	case crypto.ErrCodeFormat:
		statusCode = http.StatusBadRequest
		errorCode = ErrCodeFormat
		errorCodeText = "Invalid payload"
		message = "envelope payload is not valid JSON"
	case crypto.ErrCodeRejected, crypto.ErrCodeValidation:
		statusCode = http.StatusBadRequest
		errorCode = ErrCodeInvalidEnvelope
		errorCodeText = "Invalid envelope"
	case crypto.ErrCodeReplayed:
		statusCode = http.StatusConflict
		errorCode = ErrCodeReplayed
		errorCodeText = "Envelope replayed"
	default:
		statusCode = http.StatusInternalServerError
		errorCode = ErrCodeInternalError
		errorCodeText = "Internal Error"
		message = "An internal error occurred"
	}

	return newErrorResponse(r, requestID, statusCode, errorCode, errorCodeText, message)
}

func newErrorResponse(r *http.Request, requestID string, statusCode int, code ErrorCode, text, message string) *ErrorResponse {
	return &ErrorResponse{
		HTTPMethod:                   r.Method,
		RequestURI:                   r.RequestURI,
		StatusCode:                   statusCode,
		StatusCodeText:               http.StatusText(statusCode),
		StatusCodeMessage:            text,
		ProviderCorrelationReference: requestID,
		ErrorDateTime:                time.Now().UTC().Format(time.RFC3339),
		Errors: []DetailedError{
			{
				ErrorCode:        code,
				ErrorCodeText:    text,
				ErrorCodeMessage: message,
			},
		},
	}
}
