package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"identity-service/internal/auth/provider"
	"identity-service/internal/auth/transient"
)

const providerName = "keycloak"

// New initializes a Keycloak OIDC provider using discovery.
// issuer must be the realm issuer URL, e.g.
// http://keycloak:8080/realms/identity
//
// publicBaseURL, when set, replaces the issuer's scheme and host in the
// browser-facing authorization URL. Keycloak is often reached through an
// internal hostname by the server and a public one by the browser.
func New(
	ctx context.Context,
	issuer string,
	clientID string,
	redirectURL string,
	publicBaseURL string,
	transientStore *transient.Store,
) (*provider.OAuth2, error) {

	if issuer == "" || clientID == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init keycloak oidc provider: %w", err)
	}

	verifier := oidcProvider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	ep := oidcProvider.Endpoint()
	if publicBaseURL != "" {
		ep.AuthURL, err = rebase(ep.AuthURL, publicBaseURL)
		if err != nil {
			return nil, err
		}
	}

	cfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    ep,
		Scopes: []string{
			oidc.ScopeOpenID,
			"email",
			"profile",
		},
	}

	return provider.NewOAuth2(providerName, cfg, transientStore, provider.OIDCIdentify(verifier)), nil
}

// rebase moves rawURL onto the scheme and host of base, keeping its path.
func rebase(rawURL, base string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("keycloak: parse auth url: %w", err)
	}
	b, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || b.Scheme == "" || b.Host == "" {
		return "", fmt.Errorf("keycloak: invalid public base url %q", base)
	}
	u.Scheme = b.Scheme
	u.Host = b.Host
	return u.String(), nil
}
