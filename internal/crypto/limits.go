package crypto

import "encoding/base64"

// MaxPayloadSize is the maximum size of the canonical JSON text that Seal will encrypt
// and of the decoded ciphertext that Open will decrypt.
var MaxPayloadSize int64 = 10 * 1024 * 1024 // 10MB

// ivSize is the AES block size; CBC uses one block of IV.
const ivSize = 16

// ivEncodedLen is the length of a base64 encoded iv.
var ivEncodedLen = base64.StdEncoding.EncodedLen(ivSize)
