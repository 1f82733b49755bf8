// Package server provides the encstream HTTP server.
//
// the server is configured through environment variables
// (see internal/config/config.go for details)
//
// Routes:
//   - POST /v1/relay and POST /api/proxy (internal/proxy/adapters)
//   - /v1/upstream/* when UPSTREAM_URL is set
//   - health, readiness, version and metrics
//
// middleware is in internal/server/middleware
package server
