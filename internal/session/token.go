package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"identity-service/internal/auth"
)

// MinKeyLength is the shortest HS256 key accepted for signing.
const MinKeyLength = 32

var ErrInvalidToken = errors.New("session: invalid token")

// Claims is the payload of a session token.
type Claims struct {
	Login string `json:"login,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session tokens with one HS256 key, so the
// issuer and the verifier cannot disagree on key or algorithm.
type TokenCodec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewTokenCodec(key []byte, issuer string) *TokenCodec {
	return &TokenCodec{key: key, issuer: issuer, now: time.Now}
}

// Ready reports whether the codec has usable signing material.
func (c *TokenCodec) Ready() bool {
	return c != nil && len(c.key) >= MinKeyLength
}

func (c *TokenCodec) Sign(claims Claims) (string, error) {
	if !c.Ready() {
		return "", fmt.Errorf("%w: signing key missing or shorter than %d bytes", auth.ErrTokenIssuance, MinKeyLength)
	}
	claims.Issuer = c.issuer

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", auth.ErrTokenIssuance, err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer and expiry.
func (c *TokenCodec) Parse(token string) (*Claims, error) {
	if !c.Ready() {
		return nil, fmt.Errorf("%w: no verification key", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrInvalidToken)
	}
	return claims, nil
}
