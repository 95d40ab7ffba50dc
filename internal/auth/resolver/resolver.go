package resolver

import (
	"context"

	"identity-service/internal/auth"
	"identity-service/internal/user"
)

// Resolver determines which local user an external identity belongs to.
// It is the only place where identity-to-user mapping logic lives.
type Resolver interface {
	Resolve(
		ctx context.Context,
		identity *auth.Identity,
		source auth.Source,
		policy auth.ConflictPolicy,
	) (*user.User, error)
}
