// this file provides the envelope fingerprint used for replay detection.
//
// envelopes carry no identifier. Since the iv is random per seal and the timestamp is covered by
// the signature, (iv, timestamp) identifies an authenticated envelope.

package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// FingerprintSize is the length in bytes of an envelope fingerprint.
const FingerprintSize = sha256.Size

// Fingerprint returns SHA-256(iv ‖ 0x00 ‖ timestamp) for env.
//
// Only compute fingerprints of envelopes that have passed Codec.Open: the fields of an
// unauthenticated envelope are attacker controlled.
func Fingerprint(env *Envelope) [FingerprintSize]byte {
	h := sha256.New()
	h.Write([]byte(env.IV))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(env.Timestamp, 10)))

	var sum [FingerprintSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// FingerprintHex returns Fingerprint as a hex string (for logs and storage keys).
func FingerprintHex(env *Envelope) string {
	sum := Fingerprint(env)
	return hex.EncodeToString(sum[:])
}
