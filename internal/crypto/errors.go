package crypto

import (
	"errors"
	"fmt"
)

// Error represents a structured error from the crypto package
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type ErrorCode string

const (
	// ErrCodeAuthentication: the envelope signature did not match (tampering or wrong secret)
	ErrCodeAuthentication ErrorCode = "authentication"

	// ErrCodeDecryption: the ciphertext or iv could not be decoded, decrypted or unpadded
	// after the signature was accepted
	ErrCodeDecryption ErrorCode = "decryption"

	// ErrCodeFormat: the decrypted plaintext is not valid JSON
	ErrCodeFormat ErrorCode = "format"

	// ErrCodeEncoding: the value passed to Seal cannot be serialized
	ErrCodeEncoding ErrorCode = "encoding"

	// ErrCodeRejected: the freshness validator rejected the envelope (malformed, stale or future dated)
	ErrCodeRejected ErrorCode = "rejected"

	// ErrCodeReplayed: the envelope has already been accepted inside the freshness window
	ErrCodeReplayed ErrorCode = "replayed"

	ErrCodeValidation    ErrorCode = "validation"
	ErrCodeKeyManagement ErrorCode = "key_management"
	ErrCodeInternal      ErrorCode = "internal"
)

// CryptoError represents a structured error from the crypto package
type CryptoError struct {

	// code is the cryptoerror code
	code ErrorCode

	// message is a human-readable error message
	message string

	// wrapped is the optional underlying error
	wrapped error
}

func (e *CryptoError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *CryptoError) Code() ErrorCode { return e.code }
func (e *CryptoError) Unwrap() error   { return e.wrapped }

// ErrorCodeOf returns the code of the first CryptoError in err's chain.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var cryptoErr *CryptoError
	if errors.As(err, &cryptoErr) {
		return cryptoErr.Code(), true
	}
	return "", false
}

// IsAuthenticationError reports whether err (or anything it wraps) is a signature mismatch.
func IsAuthenticationError(err error) bool {
	code, ok := ErrorCodeOf(err)
	return ok && code == ErrCodeAuthentication
}

// NewAuthenticationError creates a signature verification error.
// Use this when the recomputed envelope signature does not match the supplied one.
//
// The returned error will have code ErrCodeAuthentication.
func NewAuthenticationError(msg string) error {
	return &CryptoError{code: ErrCodeAuthentication, message: msg}
}

// NewDecryptionError creates a decryption error.
// Use this for bad base64, wrong iv length, ciphertext that is not a whole number
// of blocks, or invalid PKCS#7 padding.
//
// The returned error will have code ErrCodeDecryption.
func NewDecryptionError(msg string) error {
	return &CryptoError{code: ErrCodeDecryption, message: msg}
}

// WrapDecryptionError wraps an existing error as a decryption error.
//
// The returned error will have code ErrCodeDecryption.
func WrapDecryptionError(err error, msg string) error {
	return &CryptoError{code: ErrCodeDecryption, message: msg, wrapped: err}
}

// WrapFormatError wraps a JSON parse failure of decrypted content.
//
// The returned error will have code ErrCodeFormat.
func WrapFormatError(err error, msg string) error {
	return &CryptoError{code: ErrCodeFormat, message: msg, wrapped: err}
}

// NewEncodingError creates an error for values that cannot be sealed.
//
// The returned error will have code ErrCodeEncoding.
func NewEncodingError(msg string) error {
	return &CryptoError{code: ErrCodeEncoding, message: msg}
}

// WrapEncodingError wraps a serialization failure of a value passed to Seal.
//
// The returned error will have code ErrCodeEncoding.
func WrapEncodingError(err error, msg string) error {
	return &CryptoError{code: ErrCodeEncoding, message: msg, wrapped: err}
}

// NewRejectedError creates an error for an envelope refused by the freshness validator.
// The reason is included in the message.
//
// The returned error will have code ErrCodeRejected.
func NewRejectedError(reason RejectReason) error {
	return &CryptoError{code: ErrCodeRejected, message: fmt.Sprintf("envelope rejected: %s", reason)}
}

// NewReplayedError creates an error for an envelope that was already accepted.
//
// The returned error will have code ErrCodeReplayed.
func NewReplayedError(msg string) error {
	return &CryptoError{code: ErrCodeReplayed, message: msg}
}

// NewValidationError creates a validation error for invalid input.
// Use this for errors related to missing required fields, bad format,
// or invalid arguments (e.g an empty secret).
//
// The returned error will have code ErrCodeValidation.
func NewValidationError(msg string) error {
	return &CryptoError{code: ErrCodeValidation, message: msg}
}

// WrapValidationError wraps an existing error as a validation error.
//
// The returned error will have code ErrCodeValidation.
func WrapValidationError(err error, msg string) error {
	return &CryptoError{code: ErrCodeValidation, message: msg, wrapped: err}
}

// NewKeyManagementError creates a key management error.
// Use this for errors related to loading or generating the shared secret,
// invalid key format, or JWK parsing failures.
//
// The returned error will have code ErrCodeKeyManagement.
func NewKeyManagementError(msg string) error {
	return &CryptoError{code: ErrCodeKeyManagement, message: msg}
}

// WrapKeyManagementError wraps an existing error as a key management error.
//
// The returned error will have code ErrCodeKeyManagement.
func WrapKeyManagementError(err error, msg string) error {
	return &CryptoError{code: ErrCodeKeyManagement, message: msg, wrapped: err}
}

// NewInternalError creates an internal error for unexpected failures.
//
// The returned error will have code ErrCodeInternal.
func NewInternalError(msg string) error {
	return &CryptoError{code: ErrCodeInternal, message: msg}
}

// WrapInternalError wraps an existing error as an internal error.
// Use this for errors related to crypto library failures or system errors
// that should not normally occur (e.g the random source failing).
//
// The returned error will have code ErrCodeInternal.
func WrapInternalError(err error, msg string) error {
	return &CryptoError{code: ErrCodeInternal, message: msg, wrapped: err}
}
