package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"identity-service/internal/auth"
	"identity-service/internal/user"
)

// Token is a freshly issued session token.
type Token struct {
	Value     string
	SessionID string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints a new session for a user on every call and attaches it to the
// response.
type Issuer struct {
	codec  *TokenCodec
	store  Store
	ttl    time.Duration
	cookie CookieOptions
	now    func() time.Time
}

func NewIssuer(codec *TokenCodec, store Store, ttl time.Duration, cookie CookieOptions) *Issuer {
	return &Issuer{
		codec:  codec,
		store:  store,
		ttl:    ttl,
		cookie: cookie,
		now:    time.Now,
	}
}

func (i *Issuer) Issue(ctx context.Context, w http.ResponseWriter, u *user.User) (*Token, error) {
	if u == nil || u.ID == "" {
		return nil, fmt.Errorf("%w: no user", auth.ErrTokenIssuance)
	}
	if i.ttl <= 0 {
		return nil, fmt.Errorf("%w: non-positive session ttl", auth.ErrTokenIssuance)
	}

	sessionID, err := GenerateID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenIssuance, err)
	}

	now := i.now()
	claims := Claims{
		Login: u.Login,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := i.codec.Sign(claims)
	if err != nil {
		return nil, err
	}

	tok := &Token{
		Value:     signed,
		SessionID: sessionID,
		UserID:    u.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}

	err = i.store.Create(ctx, Session{
		SessionID: sessionID,
		UserID:    u.ID,
		Login:     u.Login,
		CreatedAt: tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrTokenIssuance, err)
	}

	SetCookie(w, signed, tok.ExpiresAt, i.cookie)
	return tok, nil
}

// Revoke deletes the session carried by r and clears its cookie. It is
// idempotent.
func (i *Issuer) Revoke(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	defer ClearCookie(w, i.cookie)

	raw, ok := TokenFromRequest(r)
	if !ok {
		return "", nil
	}
	claims, err := i.codec.Parse(raw)
	if err != nil {
		return "", nil
	}
	if err := i.store.Delete(ctx, claims.ID); err != nil {
		return claims.ID, err
	}
	return claims.ID, nil
}

// Principal re-establishes the request's principal from its session token.
// The token must verify and its session must still be live.
func (i *Issuer) Principal(ctx context.Context, r *http.Request) (Principal, error) {
	raw, ok := TokenFromRequest(r)
	if !ok {
		return Principal{}, fmt.Errorf("%w: no session cookie", ErrInvalidToken)
	}

	claims, err := i.codec.Parse(raw)
	if err != nil {
		return Principal{}, err
	}

	sess, err := i.store.Get(ctx, claims.ID)
	if err != nil {
		return Principal{}, err
	}
	if sess.UserID != claims.Subject {
		return Principal{}, fmt.Errorf("%w: session belongs to another user", ErrInvalidToken)
	}
	if !i.now().Before(sess.ExpiresAt) {
		_ = i.store.Delete(ctx, sess.SessionID)
		return Principal{}, fmt.Errorf("%w: session expired", ErrInvalidToken)
	}

	return Principal{
		UserID:    sess.UserID,
		Login:     sess.Login,
		SessionID: sess.SessionID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}
