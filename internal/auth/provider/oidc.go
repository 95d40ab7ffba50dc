package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"identity-service/internal/auth"
	"identity-service/internal/logger"
)

// OIDCIdentify verifies the id_token returned with the access token and maps
// its standard claims. Unverified emails are not asserted.
func OIDCIdentify(verifier *oidc.IDTokenVerifier) IdentifyFunc {
	return func(ctx context.Context, _ *oauth2.Config, token *oauth2.Token) (*auth.Identity, error) {
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return nil, errors.New("no id_token in token response")
		}

		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("id_token verification failed: %w", err)
		}

		var claims struct {
			Subject           string `json:"sub"`
			Email             string `json:"email"`
			EmailVerified     bool   `json:"email_verified"`
			Name              string `json:"name"`
			PreferredUsername string `json:"preferred_username"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("id_token claims parse failed: %w", err)
		}
		if claims.Subject == "" {
			return nil, errors.New("id_token missing sub")
		}

		logger.Debug("oidc verified", map[string]any{
			"issuer":         idToken.Issuer,
			"email_present":  claims.Email != "",
			"email_verified": claims.EmailVerified,
			"audience":       idToken.Audience,
			"expiry_unix":    idToken.Expiry.Unix(),
		})

		identity := &auth.Identity{
			ProviderUserID: claims.Subject,
			ProviderLogin:  claims.PreferredUsername,
			Name:           claims.Name,
		}
		if claims.EmailVerified {
			identity.Email = claims.Email
			identity.EmailVerified = true
		}
		return identity, nil
	}
}
