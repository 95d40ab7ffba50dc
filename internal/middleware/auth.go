package middleware

import (
	"errors"
	"net/http"

	"identity-service/internal/logger"
	"identity-service/internal/session"
)

// AuthMiddleware re-establishes the request's principal from its session
// token without repeating reconciliation.
type AuthMiddleware struct {
	Issuer *session.Issuer
}

func NewAuthMiddleware(issuer *session.Issuer) *AuthMiddleware {
	return &AuthMiddleware{Issuer: issuer}
}

func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// token signature, issuer and expiry, then the live session in Redis
		p, err := a.Issuer.Principal(r.Context(), r)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidToken) && !errors.Is(err, session.ErrNotFound) {
				logger.Error("session lookup failed", map[string]any{
					"error": err.Error(),
				})
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(session.WithPrincipal(r.Context(), p)))
	})
}
