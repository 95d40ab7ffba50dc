package provider

import (
	"errors"

	"identity-service/internal/auth/authctx"
)

// ErrProtocol means the provider round-trip itself failed: a denied consent,
// a bad state, a failed code exchange or an unverifiable assertion.
var ErrProtocol = errors.New("provider: protocol error")

// IdentityProvider is one pluggable external identity source.
// Implementations only assert identities; user creation, linking and
// sessions happen behind Context.Authenticate.
type IdentityProvider interface {
	// Name returns the provider identifier (e.g. "google", "github").
	Name() string

	// Init starts the login flow, typically by redirecting to the provider.
	Init(ac authctx.Context) error

	// Callback completes the provider protocol and calls ac.Authenticate at
	// most once.
	Callback(ac authctx.Context) error
}
