// Package adapters exposes the proxy pipeline over HTTP.
//
//   - Relay: the caller posts {"target", "data"} where data is a sealed envelope; the decrypted
//     payload is forwarded to target and the response is sealed.
//   - SealedProxy: the whole request (target, method, headers, body) is sealed; the envelope's
//     timestamp and signature are repeated in the X-Encryption-Timestamp and X-Encryption-Signature headers.
//   - Unwrap: middleware that decrypts sealed POST bodies for the next handler. NewUpstreamProxy
//     combines it with a reverse proxy and optional response sealing.
//
// Sealed responses are always sent with status 200; the target's status is in X-Upstream-Status.
package adapters
