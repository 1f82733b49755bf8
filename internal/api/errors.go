package api

// errors.go defines the error codes returned by the encstream HTTP API

import "fmt"

// ApiError represents a structured error raised by the HTTP layer (adapters and middleware).
// Errors from the envelope codec are crypto.CryptoError values and are mapped separately.
type ApiError struct {
	// code is the API error code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *ApiError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *ApiError) Code() ErrorCode { return e.code }
func (e *ApiError) Unwrap() error   { return e.wrapped }

// ErrorCode is used in error responses returned by the API.
//
//   - 7000-7999 for technical errors - the request could not be processed because of a problem with the supplied data or the server.
//   - 8000-8999 for functional errors - the request is valid but policy prevents it being processed.
type ErrorCode int

const (

	// ErrCodeAuthentication is used when the envelope signature does not match (tampering or wrong secret)
	ErrCodeAuthentication ErrorCode = 7001

	// ErrCodeDecryption is used when an authenticated envelope cannot be decrypted
	ErrCodeDecryption ErrorCode = 7002

	// ErrCodeFormat is used when the decrypted payload is not valid JSON
	ErrCodeFormat ErrorCode = 7003

	// ErrCodeInvalidEnvelope is used when the envelope is structurally invalid, stale or future dated
	ErrCodeInvalidEnvelope ErrorCode = 7004

	// ErrCodeInternalError is used when an internal server error occurs
	ErrCodeInternalError ErrorCode = 7005

	// ErrCodeMalformedRequest is used when the request body or headers cannot be parsed
	ErrCodeMalformedRequest ErrorCode = 7006

	// ErrCodeReplayed is used when an envelope that was already accepted is presented again
	ErrCodeReplayed ErrorCode = 7007

	// ErrCodeUpstream is used when the forward target cannot be reached or returns an unusable response
	ErrCodeUpstream ErrorCode = 7008

	// ErrCodeRateLimitExceeded is used when the rate limit is exceeded
	// - this is only used in the middleware
	ErrCodeRateLimitExceeded ErrorCode = 7009

	// ErrCodeRequestTooLarge is used when the request body is too large
	// - this is only used in the middleware
	ErrCodeRequestTooLarge ErrorCode = 7010

	// ErrCodeTargetNotAllowed is used when a forward target is not on the allow list
	ErrCodeTargetNotAllowed ErrorCode = 8001
)

// NewMalformedRequestError creates an error for malformed requests.
func NewMalformedRequestError(msg string) error {
	return &ApiError{code: ErrCodeMalformedRequest, message: msg}
}

// WrapMalformedRequestError wraps an existing error as a malformed request error.
func WrapMalformedRequestError(err error, msg string) error {
	return &ApiError{code: ErrCodeMalformedRequest, message: msg, wrapped: err}
}

// NewUpstreamError creates an error for a failed forward request.
//
// The returned error will have code ErrCodeUpstream.
func NewUpstreamError(msg string) error {
	return &ApiError{code: ErrCodeUpstream, message: msg}
}

// WrapUpstreamError wraps a transport or decoding error from the forward target.
//
// The returned error will have code ErrCodeUpstream.
func WrapUpstreamError(err error, msg string) error {
	return &ApiError{code: ErrCodeUpstream, message: msg, wrapped: err}
}

// NewTargetNotAllowedError creates an error for forward targets outside the allow list.
//
// The returned error will have code ErrCodeTargetNotAllowed.
func NewTargetNotAllowedError(msg string) error {
	return &ApiError{code: ErrCodeTargetNotAllowed, message: msg}
}

// NewInternalError creates an internal error for unexpected failures.
//
// The returned error will have code ErrCodeInternalError.
func NewInternalError(msg string) error {
	return &ApiError{code: ErrCodeInternalError, message: msg}
}

// WrapInternalError wraps an existing error as an internal error.
// Use this for errors related to unexpected nil values, system errors,
// or other failures that should not normally occur.
//
// The returned error will have code ErrCodeInternalError.
func WrapInternalError(err error, msg string) error {
	return &ApiError{code: ErrCodeInternalError, message: msg, wrapped: err}
}

// NewRateLimitError creates a rate limit exceeded error.
//
// The returned error will have code ErrCodeRateLimitExceeded.
func NewRateLimitError(msg string) error {
	return &ApiError{code: ErrCodeRateLimitExceeded, message: msg}
}

// NewRequestTooLargeError creates a request too large error.
//
// The returned error will have code ErrCodeRequestTooLarge.
func NewRequestTooLargeError(msg string) error {
	return &ApiError{code: ErrCodeRequestTooLarge, message: msg}
}
