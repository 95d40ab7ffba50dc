package user

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("user: not found")
	ErrDuplicate = errors.New("user: duplicate")
)

// Store is the persistence boundary for local users. Writes that violate a
// uniqueness constraint fail with ErrDuplicate.
type Store interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByExternalLogin(ctx context.Context, provider, providerUserID string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByLogin(ctx context.Context, login string) (*User, error)

	// Create inserts u and links it to the given external login.
	Create(ctx context.Context, u *User, link *ExternalLogin) error
	Update(ctx context.Context, u *User) error
	UpdateExternalLogin(ctx context.Context, l *ExternalLogin) error

	RecordEmailShift(ctx context.Context, shift *EmailShift) error
	EmailShifts(ctx context.Context, email string) ([]EmailShift, error)

	// InTx runs fn in a single transaction. Reads made through tx on the
	// conflict path lock the rows they return where the database supports it.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
