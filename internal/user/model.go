package user

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is a local account. Email is unique when set; it may be empty after it
// has been shifted to another account.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk"`
	Login     string    `bun:"login,notnull"`
	Name      string    `bun:"name,notnull"`
	Email     string    `bun:"email,nullzero"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`

	ExternalLogins []*ExternalLogin `bun:"rel:has-many,join:id=user_id"`
}

// ExternalLogin links a user to one provider account.
// (Provider, ProviderUserID) is unique across all users.
type ExternalLogin struct {
	bun.BaseModel `bun:"table:identities,alias:i"`

	ID             string    `bun:"id,pk"`
	UserID         string    `bun:"user_id,notnull"`
	Provider       string    `bun:"provider,notnull"`
	ProviderUserID string    `bun:"provider_user_id,notnull"`
	ProviderLogin  string    `bun:"provider_login,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// LinkedTo returns the user's login for the given provider, if any.
func (u *User) LinkedTo(provider string) (*ExternalLogin, bool) {
	for _, l := range u.ExternalLogins {
		if l.Provider == provider {
			return l, true
		}
	}
	return nil, false
}

// EmailShift is the audit record of an email moving between two users.
type EmailShift struct {
	bun.BaseModel `bun:"table:email_shifts,alias:es"`

	ID             string    `bun:"id,pk"`
	Email          string    `bun:"email,notnull"`
	FromUserID     string    `bun:"from_user_id,notnull"`
	ToUserID       string    `bun:"to_user_id,notnull"`
	Provider       string    `bun:"provider,notnull"`
	ProviderUserID string    `bun:"provider_user_id,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

// NewID returns a time-ordered UUIDv7 for primary keys.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
