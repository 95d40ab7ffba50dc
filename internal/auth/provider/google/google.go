package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"identity-service/internal/auth/provider"
	"identity-service/internal/auth/transient"
)

const (
	providerName = "google"
	issuer       = "https://accounts.google.com"
)

// New discovers Google's OIDC configuration and returns the provider.
// redirectURL may be empty to derive it from the server base URL.
func New(
	ctx context.Context,
	clientID string,
	clientSecret string,
	redirectURL string,
	transientStore *transient.Store,
) (*provider.OAuth2, error) {

	if clientID == "" || clientSecret == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init google oidc provider: %w", err)
	}

	verifier := oidcProvider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	cfg := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     oidcProvider.Endpoint(),
		Scopes: []string{
			oidc.ScopeOpenID,
			"profile",
			"email",
		},
	}

	return provider.NewOAuth2(providerName, cfg, transientStore, provider.OIDCIdentify(verifier)), nil
}
