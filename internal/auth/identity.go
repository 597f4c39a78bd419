package auth

import "context"

// Identity is the authenticated caller behind a request.
type Identity struct {
	Subject string
	Role    string
	Email   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok && identity.Subject != ""
}
