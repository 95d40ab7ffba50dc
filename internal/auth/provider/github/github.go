package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	githubendpoint "golang.org/x/oauth2/github"

	"identity-service/internal/auth"
	"identity-service/internal/auth/provider"
	"identity-service/internal/auth/transient"
)

const (
	providerName = "github"
	apiURL       = "https://api.github.com"
)

// New returns the GitHub provider. GitHub speaks plain OAuth2, so the
// identity is read from the REST API with the access token.
func New(
	clientID string,
	clientSecret string,
	redirectURL string,
	transientStore *transient.Store,
) (*provider.OAuth2, error) {

	if clientID == "" || clientSecret == "" {
		return nil, errors.New("github oauth config missing required fields")
	}

	cfg := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     githubendpoint.Endpoint,
		Scopes:       []string{"read:user", "user:email"},
	}

	return provider.NewOAuth2(providerName, cfg, transientStore, identify(apiURL)), nil
}

func identify(base string) provider.IdentifyFunc {
	return func(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token) (*auth.Identity, error) {
		return fetchIdentity(ctx, cfg.Client(ctx, token), base)
	}
}

type ghUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type ghEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func fetchIdentity(ctx context.Context, client *http.Client, base string) (*auth.Identity, error) {
	var u ghUser
	if err := getJSON(ctx, client, base+"/user", &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, errors.New("github user without id")
	}

	var emails []ghEmail
	if err := getJSON(ctx, client, base+"/user/emails", &emails); err != nil {
		return nil, err
	}

	identity := &auth.Identity{
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		ProviderLogin:  u.Login,
		Name:           u.Name,
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			identity.Email = e.Email
			identity.EmailVerified = true
			break
		}
	}
	return identity, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github: GET %s: status %d", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "json") {
		return fmt.Errorf("github: GET %s: unexpected content type %q", url, ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", url, err)
	}
	return nil
}
