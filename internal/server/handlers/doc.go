// Package handlers provides general infrastructure HTTP handlers
// (health, readiness, version).
//
// The envelope endpoints are in internal/proxy/adapters.
package handlers
