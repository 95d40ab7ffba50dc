package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session: not found")

// Session is the server-side record of an issued token. It stores only
// identity pointers; the token itself is never persisted.
type Session struct {
	SessionID string    `json:"session_id"` // token jti
	UserID    string    `json:"user_id"`    // references users.id
	Login     string    `json:"login"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"` // absolute expiry time
}

// Store keeps live sessions. Deleting a session revokes its token.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
