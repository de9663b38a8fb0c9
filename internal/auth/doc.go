// Package auth holds the identity primitives of Gatekeeper.
//
// It provides:
//   - Argon2id password hashing (OWASP 2025 parameters, PHC encoding)
//   - HS256 bearer tokens bound to a session id and email, with a fixed set of lifetimes
//   - the ADMIN / MANAGER / USER permission matrix (compile-time, total)
//   - the security error taxonomy, each kind carrying its HTTP status
//   - the SQLite user directory and first-boot admin seeding
//
// Session handling lives in internal/authn and policy checks in internal/authz.
package auth
