package api

// HTTP headers used by the encstream API.
const (
	// HeaderUpstreamStatus carries the forward target's status code; the sealed response itself is always 200.
	HeaderUpstreamStatus = "X-Upstream-Status"

	// HeaderEncryptionTimestamp and HeaderEncryptionSignature duplicate the envelope's timestamp and
	// signature on sealed proxy requests.
	HeaderEncryptionTimestamp = "X-Encryption-Timestamp"
	HeaderEncryptionSignature = "X-Encryption-Signature"

	// HeaderEncrypted marks a response body as a sealed envelope.
	HeaderEncrypted = "X-Encrypted"
)
