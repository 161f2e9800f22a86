package auth

import (
	"context"
	"time"

	"github.com/libraryd/apiserver/types"
)

type contextKey struct{}

// Identity is the verified caller of a request.
type Identity struct {
	UserID    int
	Role      types.RoleName
	TokenID   string
	ExpiresAt time.Time
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.UserID < 1 {
		return Identity{}, false
	}
	return id, true
}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Allowed Decision = iota
	Unauthenticated
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Authorize decides whether the identity in ctx holds one of roles.
// An empty roles list admits any authenticated caller.
func Authorize(ctx context.Context, roles ...types.RoleName) Decision {
	id, ok := FromContext(ctx)
	if !ok {
		return Unauthenticated
	}
	if len(roles) == 0 {
		return Allowed
	}
	for _, role := range roles {
		if id.Role == role {
			return Allowed
		}
	}
	return Forbidden
}
