// crypto package implements the encstream envelope: a JSON value sealed under a shared secret
// with AES-256-CBC and authenticated with HMAC-SHA256.
//
// Producers call Seal to obtain an Envelope. Consumers run the raw envelope through a Validator
// (structure and freshness, no secret needed) and, if it is accepted, call Open.
//
// Codec.Open always verifies the signature before decrypting; the Validator is a pre-filter only.
//
// these are low level functions - the proxy package combines them with replay protection.
package crypto
