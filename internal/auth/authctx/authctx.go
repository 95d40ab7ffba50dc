package authctx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"identity-service/internal/auth"
	"identity-service/internal/auth/resolver"
	"identity-service/internal/auth/transient"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/session"
	"identity-service/internal/user"
)

// Context is what an identity provider is handed for one request. The
// provider completes its own protocol and calls Authenticate at most once.
type Context interface {
	Request() *http.Request
	Response() http.ResponseWriter
	BaseURL() string
	Authenticate(identity *auth.Identity) error
}

// TokenIssuer mints a session token for a user onto the response.
type TokenIssuer interface {
	Issue(ctx context.Context, w http.ResponseWriter, u *user.User) (*session.Token, error)
}

// Factory builds request contexts sharing one pipeline.
type Factory struct {
	baseURL   string
	transient *transient.Store
	resolver  resolver.Resolver
	issuer    TokenIssuer
	metrics   *metrics.Metrics
}

func NewFactory(
	baseURL string,
	transientStore *transient.Store,
	r resolver.Resolver,
	issuer TokenIssuer,
	m *metrics.Metrics,
) *Factory {
	return &Factory{
		baseURL:   baseURL,
		transient: transientStore,
		resolver:  r,
		issuer:    issuer,
		metrics:   m,
	}
}

// NewContext attaches the request's transient flow and returns the context
// for provider.
func (f *Factory) NewContext(w http.ResponseWriter, r *http.Request, provider string) Context {
	flow, r := f.transient.Attach(w, r)
	return &requestContext{
		factory:  f,
		provider: provider,
		w:        w,
		r:        r,
		flow:     flow,
	}
}

type requestContext struct {
	factory  *Factory
	provider string
	w        http.ResponseWriter
	r        *http.Request
	flow     *transient.Flow

	authenticated bool
}

func (c *requestContext) Request() *http.Request        { return c.r }
func (c *requestContext) Response() http.ResponseWriter { return c.w }
func (c *requestContext) BaseURL() string               { return c.factory.baseURL }

// Authenticate reconciles identity with local users, issues a session token
// and binds the user to the request. Transient parameters are consumed on
// every path.
func (c *requestContext) Authenticate(identity *auth.Identity) (err error) {
	allowShift := c.flow.AllowEmailShift()
	defer c.flow.DeleteAll()

	defer func() {
		c.factory.metrics.Attempt(c.provider, Outcome(err))
	}()

	if err = c.checkCallback(identity); err != nil {
		return err
	}
	c.authenticated = true

	ctx := c.r.Context()
	source := auth.External(c.provider)
	policy := auth.PolicyFor(allowShift)

	u, err := c.factory.resolver.Resolve(ctx, identity, source, policy)
	if err != nil {
		logger.Warn("identity reconciliation failed", map[string]any{
			"provider":         c.provider,
			"provider_user_id": identity.ProviderUserID,
			"policy":           policy.String(),
			"error":            err.Error(),
		})
		return err
	}

	tok, err := c.factory.issuer.Issue(ctx, c.w, u)
	if err != nil {
		logger.Error("session token issuance failed", map[string]any{
			"provider": c.provider,
			"user_id":  u.ID,
			"error":    err.Error(),
		})
		return err
	}

	c.r = c.r.WithContext(session.WithPrincipal(ctx, session.Principal{
		UserID:    u.ID,
		Login:     u.Login,
		SessionID: tok.SessionID,
		ExpiresAt: tok.ExpiresAt,
	}))

	logger.Info("login success", map[string]any{
		"provider": c.provider,
		"user_id":  u.ID,
		"sid":      tok.SessionID,
		"ip":       c.r.RemoteAddr,
	})
	return nil
}

func (c *requestContext) checkCallback(identity *auth.Identity) error {
	switch {
	case c.authenticated:
		return fmt.Errorf("%w: authenticate called twice", auth.ErrUnauthenticatedCallback)
	case identity == nil:
		return fmt.Errorf("%w: no identity", auth.ErrUnauthenticatedCallback)
	case identity.Provider != c.provider:
		return fmt.Errorf("%w: identity from %q in %q callback",
			auth.ErrUnauthenticatedCallback, identity.Provider, c.provider)
	case identity.ProviderUserID == "":
		return fmt.Errorf("%w: identity without provider user id", auth.ErrUnauthenticatedCallback)
	}
	return nil
}

// Outcome classifies an authentication result for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, auth.ErrIdentityConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, auth.ErrUnauthenticatedCallback):
		return metrics.OutcomeUnauthenticated
	case errors.Is(err, auth.ErrStorageRace):
		return metrics.OutcomeStorageRace
	case errors.Is(err, auth.ErrTokenIssuance):
		return metrics.OutcomeTokenFailure
	default:
		return metrics.OutcomeError
	}
}
