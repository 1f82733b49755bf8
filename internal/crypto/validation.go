// validation.go implements the freshness validator: a structural and timestamp check
// of an envelope that does not need the secret.
//
// The validator is a cheap pre-filter for components that hold no key material. It does not
// verify the signature; Codec.Open remains the authoritative check.
package crypto

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// DefaultMaxAge is the freshness window used when none is configured.
const DefaultMaxAge = 5 * time.Minute

// RejectReason describes why the validator refused an envelope.
// The empty reason means the envelope was accepted.
type RejectReason string

const (
	ReasonNone RejectReason = ""

	// ReasonMalformed: not an object with exactly ciphertext (or data), iv, timestamp and signature,
	// or one of those fields is null or of the wrong type.
	ReasonMalformed RejectReason = "malformed"

	// ReasonStale: the envelope is older than the freshness window.
	ReasonStale RejectReason = "stale"

	// ReasonFutureDated: the envelope timestamp is ahead of the validator's clock.
	ReasonFutureDated RejectReason = "future_dated"
)

func (r RejectReason) String() string {
	if r == ReasonNone {
		return "accepted"
	}
	return string(r)
}

// Validator checks envelope structure and freshness.
// It holds no state other than its configuration and is safe for concurrent use.
type Validator struct {
	maxAge time.Duration
	now    func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the validator's clock.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a Validator accepting envelopes no older than maxAge.
// A maxAge of zero or less selects DefaultMaxAge.
func NewValidator(maxAge time.Duration, opts ...ValidatorOption) *Validator {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	v := &Validator{
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// MaxAge returns the configured freshness window.
func (v *Validator) MaxAge() time.Duration {
	return v.maxAge
}

// Check reports whether raw is a structurally valid, fresh envelope.
// It never panics and returns false for any input it cannot accept.
func (v *Validator) Check(raw []byte) bool {
	_, reason := v.Inspect(raw)
	return reason == ReasonNone
}

// Inspect performs the same check as Check and returns the reason for a rejection.
// When the envelope is accepted the parsed envelope is returned with ReasonNone.
func (v *Validator) Inspect(raw []byte) (*Envelope, RejectReason) {
	env, ok := parseStrict(raw)
	if !ok {
		return nil, ReasonMalformed
	}
	if reason := v.CheckEnvelope(env); reason != ReasonNone {
		return nil, reason
	}
	return env, ReasonNone
}

// CheckEnvelope applies the freshness rule to an already parsed envelope.
//
// age = now - timestamp (ms); the envelope is accepted iff 0 <= age <= max age.
func (v *Validator) CheckEnvelope(env *Envelope) RejectReason {
	if env == nil {
		return ReasonMalformed
	}

	now := v.now().UnixMilli()
	if env.Timestamp > now {
		return ReasonFutureDated
	}
	// compare against the oldest acceptable timestamp rather than computing now-ts,
	// which overflows for very negative timestamps
	if env.Timestamp < now-v.maxAge.Milliseconds() {
		return ReasonStale
	}
	return ReasonNone
}

// Check reports whether raw is a structurally valid envelope no older than maxAge.
func Check(raw []byte, maxAge time.Duration) bool {
	return NewValidator(maxAge).Check(raw)
}

// parseStrict decodes raw into an Envelope only if it is a JSON object with exactly the
// four envelope fields, none null, with string text fields and an integral timestamp.
func parseStrict(raw []byte) (*Envelope, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	// "null" unmarshals into a nil map without error
	if fields == nil || len(fields) != 4 {
		return nil, false
	}

	ctRaw, hasCiphertext := fields["ciphertext"]
	dataRaw, hasData := fields["data"]
	if hasCiphertext == hasData {
		return nil, false
	}
	if hasData {
		ctRaw = dataRaw
	}

	env := &Envelope{}
	var ok bool
	if env.Ciphertext, ok = jsonString(ctRaw); !ok {
		return nil, false
	}
	if env.IV, ok = jsonString(fields["iv"]); !ok {
		return nil, false
	}
	if env.Signature, ok = jsonString(fields["signature"]); !ok {
		return nil, false
	}
	if env.Timestamp, ok = jsonInteger(fields["timestamp"]); !ok {
		return nil, false
	}
	return env, true
}

func jsonString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// jsonInteger accepts a JSON number with an integral value that fits in an int64
// (1700000000000 and 1.7e12 are both accepted, 1.5 is not).
func jsonInteger(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}

	s := string(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
