package authn

import (
	"context"
	"time"

	"github.com/nerrad567/gatekeeper/internal/auth"
)

// CredentialSource says where a request's session id came from.
type CredentialSource string

const (
	SourceBearer CredentialSource = "bearer"
	SourceHeader CredentialSource = "header"
	SourceCookie CredentialSource = "cookie"
)

// Credentials is the raw credential material of a request. Empty fields
// are absent.
type Credentials struct {
	BearerToken   string
	SessionHeader string
	SessionCookie string
}

// Identity is the result of a successful Authenticate.
type Identity struct {
	SessionID string
	User      auth.User
	ExpiresAt time.Time
	Source    CredentialSource

	// Claims is set when a bearer token was used.
	Claims *auth.Claims
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	SessionID string
	User      auth.User
	ExpiresAt time.Time
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity attached by WithIdentity, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
