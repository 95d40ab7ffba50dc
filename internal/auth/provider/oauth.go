package provider

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"identity-service/internal/auth"
	"identity-service/internal/auth/authctx"
	"identity-service/internal/auth/transient"
	"identity-service/internal/logger"
	"identity-service/internal/utils"
)

// IdentifyFunc turns the token of a completed code exchange into identity
// facts.
type IdentifyFunc func(ctx context.Context, config *oauth2.Config, token *oauth2.Token) (*auth.Identity, error)

// OAuth2 runs the authorization code flow with PKCE. State and verifier travel
// as transient parameters, so they are consumed with the rest of the flow.
type OAuth2 struct {
	name      string
	config    oauth2.Config
	transient *transient.Store
	identify  IdentifyFunc
	options   []oauth2.AuthCodeOption
}

func NewOAuth2(
	name string,
	config oauth2.Config,
	transientStore *transient.Store,
	identify IdentifyFunc,
	options ...oauth2.AuthCodeOption,
) *OAuth2 {
	return &OAuth2{
		name:      name,
		config:    config,
		transient: transientStore,
		identify:  identify,
		options:   options,
	}
}

func (p *OAuth2) Name() string {
	return p.name
}

// configFor fills in the callback URL from the server base URL when none is
// configured.
func (p *OAuth2) configFor(ac authctx.Context) *oauth2.Config {
	cfg := p.config
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = ac.BaseURL() + "/oauth/callback/" + p.name
	}
	return &cfg
}

func (p *OAuth2) Init(ac authctx.Context) error {
	flow := p.transient.Flow(ac.Response(), ac.Request())

	state, err := utils.RandomString(32)
	if err != nil {
		return err
	}
	verifier := oauth2.GenerateVerifier()

	if err := flow.Set(transient.State, state); err != nil {
		return err
	}
	if err := flow.Set(transient.PKCE, verifier); err != nil {
		return err
	}

	opts := append([]oauth2.AuthCodeOption{
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
	}, p.options...)

	http.Redirect(ac.Response(), ac.Request(), p.configFor(ac).AuthCodeURL(state, opts...), http.StatusFound)
	return nil
}

func (p *OAuth2) Callback(ac authctx.Context) error {
	r := ac.Request()
	q := r.URL.Query()
	flow := p.transient.Flow(ac.Response(), r)

	// Consent denied or cancelled at the provider.
	if errParam := q.Get("error"); errParam != "" {
		logger.Warn("provider callback returned error", map[string]any{
			"provider": p.name,
			"error":    errParam,
			"desc":     q.Get("error_description"),
		})
		return fmt.Errorf("%w: %s returned %s", ErrProtocol, p.name, errParam)
	}

	expected, ok := flow.Get(transient.State)
	state := q.Get("state")
	if !ok || state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		return fmt.Errorf("%w: invalid state", ErrProtocol)
	}

	code := q.Get("code")
	if code == "" {
		return fmt.Errorf("%w: missing code", ErrProtocol)
	}

	verifier, ok := flow.Get(transient.PKCE)
	if !ok || verifier == "" {
		return fmt.Errorf("%w: missing pkce verifier", ErrProtocol)
	}

	ctx := r.Context()
	cfg := p.configFor(ac)

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		logger.Error("token exchange failed", map[string]any{
			"provider": p.name,
			"error":    err.Error(),
		})
		return fmt.Errorf("%w: %s token exchange: %v", ErrProtocol, p.name, err)
	}

	identity, err := p.identify(ctx, cfg, token)
	if err != nil {
		logger.Error("identity assertion rejected", map[string]any{
			"provider": p.name,
			"error":    err.Error(),
		})
		return fmt.Errorf("%w: %s: %v", ErrProtocol, p.name, err)
	}
	identity.Provider = p.name

	return ac.Authenticate(identity)
}
