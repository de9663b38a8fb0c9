// Package api implements the HTTP REST API and live audit feed for Gatekeeper.
//
// This package provides:
//   - account registration, login, logout and session lookup
//   - user administration and an HTML dashboard for administrators
//   - the stored audit history and a WebSocket feed of new events
//   - a middleware stack (request ID, logging, recovery, CORS, body limit,
//     API key, injection guard, authentication, permission checks)
//
// # Security
//
// Every JSON body is screened by the injection guard before a handler
// decodes it. Credentials are read from the Authorization bearer token, the
// X-Session-Id header and the session cookie, in that order. Security
// failures are written with writeAuthError, which keeps the status and
// message of the *auth.Error and never exposes internal errors.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
