package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticatedCallback means a provider called Authenticate without a
	// usable, validated identity, or more than once.
	ErrUnauthenticatedCallback = errors.New("auth: unauthenticated callback")

	// ErrIdentityConflict means the asserted email belongs to another user and
	// the caller did not allow the email to move.
	ErrIdentityConflict = errors.New("auth: identity conflict")

	// ErrStorageRace means concurrent creation of the same identity could not be
	// resolved by the bounded retry.
	ErrStorageRace = errors.New("auth: storage race")

	// ErrTokenIssuance means the session token could not be produced. This is a
	// server configuration problem, not a user error.
	ErrTokenIssuance = errors.New("auth: token issuance failed")
)

// IdentityConflictError carries what a caller needs to render the conflict.
type IdentityConflictError struct {
	Email         string
	ExistingLogin string
	Provider      string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("auth: email %s is already used by %s", e.Email, e.ExistingLogin)
}

func (e *IdentityConflictError) Unwrap() error {
	return ErrIdentityConflict
}

// Message is the user-facing explanation.
func (e *IdentityConflictError) Message() string {
	return fmt.Sprintf(
		"The email address %s is already associated to another account (%s). "+
			"Sign in with that account, or explicitly allow the email to be moved to your %s account.",
		e.Email, e.ExistingLogin, e.Provider,
	)
}
