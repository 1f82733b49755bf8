// envelope.go implements sealing and opening of encstream envelopes.
//
// Seal:
// i)   Serialize the value to canonical JSON (RFC 8785)
// ii)  Generate a fresh 16 byte random IV
// iii) Encrypt the canonical JSON with AES-256-CBC / PKCS#7 under a key derived from the secret (HKDF-SHA256)
// iv)  Record the seal time in milliseconds since the epoch
// v)   Sign ciphertext ‖ iv ‖ timestamp (as their text encodings) with HMAC-SHA256 keyed by the secret
//
// Open reverses the transform. The signature is verified before the ciphertext or iv is decoded,
// so tampered envelopes are never decrypted.

package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"
)

// kdfInfo binds the derived cipher key to this envelope version.
const kdfInfo = "encstream/v1 aes-256-cbc"

// Envelope is the unit of exchange between a sealer and an opener.
// All four fields are required; an envelope is immutable once sealed.
type Envelope struct {

	// Ciphertext is the base64 encoded AES-256-CBC ciphertext of the canonical JSON payload.
	Ciphertext string `json:"ciphertext"`

	// IV is the base64 encoded 16 byte initialisation vector, unique per envelope.
	IV string `json:"iv"`

	// Timestamp is the seal time in milliseconds since the Unix epoch.
	// Any integral JSON number is accepted on input (1.7e12 included).
	Timestamp int64 `json:"timestamp"`

	// Signature is the hex encoded HMAC-SHA256 over Ciphertext ‖ IV ‖ Timestamp.
	Signature string `json:"signature"`
}

// UnmarshalJSON accepts "data" as an alias for "ciphertext".
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var aux struct {
		Ciphertext *string         `json:"ciphertext"`
		Data       *string         `json:"data"`
		IV         string          `json:"iv"`
		Timestamp  json.RawMessage `json:"timestamp"`
		Signature  string          `json:"signature"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Ciphertext != nil && aux.Data != nil {
		return fmt.Errorf("envelope has both ciphertext and data fields")
	}

	var ts int64
	if len(aux.Timestamp) > 0 && string(aux.Timestamp) != "null" {
		var ok bool
		if ts, ok = jsonInteger(aux.Timestamp); !ok {
			return fmt.Errorf("envelope timestamp %s is not an integer", aux.Timestamp)
		}
	}

	e.Ciphertext = ""
	switch {
	case aux.Ciphertext != nil:
		e.Ciphertext = *aux.Ciphertext
	case aux.Data != nil:
		e.Ciphertext = *aux.Data
	}
	e.IV = aux.IV
	e.Timestamp = ts
	e.Signature = aux.Signature
	return nil
}

// SealedAt returns the envelope timestamp as a time.Time
func (e *Envelope) SealedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Codec seals and opens envelopes under a single shared secret.
//
// A Codec holds only the secret and keys derived from it, never mutates them after
// construction and is safe for concurrent use. Codecs with different secrets are independent.
type Codec struct {
	macKey []byte
	encKey []byte

	now    func() time.Time
	random io.Reader
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithCodecClock overrides the clock used to timestamp sealed envelopes.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// WithRandom overrides the source of IVs (defaults to crypto/rand).
func WithRandom(r io.Reader) CodecOption {
	return func(c *Codec) {
		c.random = r
	}
}

// NewCodec creates a Codec for secret.
//
// The HMAC key is the secret itself; the AES-256 key is derived from it with HKDF-SHA256
// so that secrets of any length can be used.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if secret == "" {
		return nil, NewValidationError("secret is required")
	}

	encKey, err := deriveEncryptionKey([]byte(secret))
	if err != nil {
		return nil, err
	}

	c := &Codec{
		macKey: []byte(secret),
		encKey: encKey,
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func deriveEncryptionKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(kdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, WrapInternalError(err, "failed to derive encryption key")
	}
	return key, nil
}

// Seal encrypts and signs value.
//
// value can be anything encoding/json can marshal. Two calls with the same value
// never return the same envelope (the IV and usually the timestamp differ).
func (c *Codec) Seal(value any) (*Envelope, error) {
	plaintext, err := MarshalCanonical(value)
	if err != nil {
		return nil, WrapEncodingError(err, "failed to serialize value")
	}
	if int64(len(plaintext)) > MaxPayloadSize {
		return nil, NewEncodingError(fmt.Sprintf("payload size (%d bytes) exceeds maximum (%d bytes)",
			len(plaintext), MaxPayloadSize))
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return nil, WrapInternalError(err, "failed to generate iv")
	}

	ciphertext, err := encryptCBC(c.encKey, iv, plaintext)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Timestamp:  c.now().UnixMilli(),
	}
	env.Signature = hex.EncodeToString(c.mac(env.Ciphertext, env.IV, env.Timestamp))

	return env, nil
}

// Open verifies env and returns the decrypted value.
//
// JSON objects are returned as map[string]any, arrays as []any and numbers as float64.
// The signature is checked first: a mismatch returns an ErrCodeAuthentication error
// without attempting decryption.
func (c *Codec) Open(env *Envelope) (any, error) {
	plaintext, err := c.openPlaintext(env)
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, WrapFormatError(err, "decrypted payload is not valid JSON")
	}
	return value, nil
}

// OpenInto is like Open but decodes the payload into dst.
func (c *Codec) OpenInto(env *Envelope, dst any) error {
	plaintext, err := c.openPlaintext(env)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plaintext, dst); err != nil {
		return WrapFormatError(err, "decrypted payload does not match the expected structure")
	}
	return nil
}

// Verify reports whether the envelope signature is valid for this codec's secret.
// The comparison is constant time and over the exact lowercase hex text, so a change
// of case in the supplied signature is a mismatch.
//
// The signed text has no separator between ciphertext and iv, so an iv of any length other than
// the encoded length of a 16 byte iv fails verification: otherwise characters could be moved
// across the boundary without changing the signed text.
func (c *Codec) Verify(env *Envelope) bool {
	if env == nil || len(env.IV) != ivEncodedLen {
		return false
	}
	expected := hex.EncodeToString(c.mac(env.Ciphertext, env.IV, env.Timestamp))
	return hmac.Equal([]byte(expected), []byte(env.Signature))
}

func (c *Codec) openPlaintext(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, NewValidationError("envelope is nil")
	}

	// nothing attacker controlled is decoded before this check
	if !c.Verify(env) {
		return nil, NewAuthenticationError("envelope signature mismatch")
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, WrapDecryptionError(err, "invalid iv encoding")
	}
	if len(iv) != ivSize {
		return nil, NewDecryptionError(fmt.Sprintf("iv must be %d bytes, got %d", ivSize, len(iv)))
	}

	if int64(base64.StdEncoding.DecodedLen(len(env.Ciphertext))) > MaxPayloadSize+aes.BlockSize {
		return nil, NewDecryptionError("ciphertext exceeds maximum payload size")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, WrapDecryptionError(err, "invalid ciphertext encoding")
	}

	return decryptCBC(c.encKey, iv, ciphertext)
}

// mac computes HMAC-SHA256(secret, ciphertext ‖ iv ‖ timestamp).
func (c *Codec) mac(ciphertext, iv string, timestamp int64) []byte {
	h := hmac.New(sha256.New, c.macKey)
	h.Write([]byte(ciphertext))
	h.Write([]byte(iv))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return h.Sum(nil)
}

func encryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, WrapInternalError(err, "cipher init failed")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, NewDecryptionError(fmt.Sprintf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, WrapInternalError(err, "cipher init failed")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, NewDecryptionError("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, NewDecryptionError("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, NewDecryptionError("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

// Seal encrypts and signs value under secret.
// Use NewCodec when sealing more than one value with the same secret.
func Seal(secret string, value any) (*Envelope, error) {
	c, err := NewCodec(secret)
	if err != nil {
		return nil, err
	}
	return c.Seal(value)
}

// Open verifies and decrypts env under secret.
func Open(secret string, env *Envelope) (any, error) {
	c, err := NewCodec(secret)
	if err != nil {
		return nil, err
	}
	return c.Open(env)
}
