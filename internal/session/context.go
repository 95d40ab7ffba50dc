package session

import (
	"context"
	"time"
)

// Principal is the authenticated user bound to one request.
type Principal struct {
	UserID    string
	Login     string
	SessionID string
	ExpiresAt time.Time
}

// unexported, collision-proof context key
type principalKey struct{}

// WithPrincipal binds p to ctx. Binding again overwrites the earlier value
// for everything derived from the returned context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
