// Package authn establishes and validates sessions.
//
// Login checks the attempt throttle, verifies the password and opens a
// session. Authenticate resolves the credential a request carries (bearer
// token, then x-session-id header, then session cookie), rejects missing or
// expired sessions, resynchronises the cached user with the directory,
// binds bearer tokens to the session's current email and slides the expiry.
//
// Every rejection is recorded on the audit log before the error is returned.
package authn
