// Package proxy contains the parts shared by the HTTP adapters:
// the inbound Pipeline (validate, open, replay check), the outbound seal, and the
// Forwarder that sends decrypted requests to their target.
//
// The adapters themselves are in internal/proxy/adapters.
package proxy
