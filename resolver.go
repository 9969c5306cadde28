package audit

import (
	"context"
	"errors"
)

// ErrMalformedIdentity is reported when a value cannot be parsed as an object id.
var ErrMalformedIdentity = errors.New("audit: malformed identity")

// IdentityResolver maps a raw identity to a display name. An empty result
// means the identity is not recognised. Implementations that perform
// lookups must be safe for concurrent use.
type IdentityResolver interface {
	NameOf(ctx context.Context, identity string) string
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(ctx context.Context, identity string) string

func (f ResolverFunc) NameOf(ctx context.Context, identity string) string {
	return f(ctx, identity)
}

// SelfNamed treats every identity as its own display name.
var SelfNamed IdentityResolver = ResolverFunc(func(_ context.Context, identity string) string {
	return identity
})
