package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"identity-service/internal/auth"
	"identity-service/internal/auth/authctx"
	"identity-service/internal/auth/provider"
	"identity-service/internal/auth/transient"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/session"
)

type Handler struct {
	providers *provider.Registry
	contexts  *authctx.Factory
	transient *transient.Store
	issuer    *session.Issuer
	metrics   *metrics.Metrics
}

func NewHandler(
	registry *provider.Registry,
	contexts *authctx.Factory,
	transientStore *transient.Store,
	issuer *session.Issuer,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		providers: registry,
		contexts:  contexts,
		transient: transientStore,
		issuer:    issuer,
		metrics:   m,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/oauth/login/:provider", h.login)
	r.GET("/oauth/callback/:provider", h.callback)
	r.POST("/auth/logout", h.Logout)
}

func (h *Handler) login(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown identity provider",
		})
		return
	}

	ac := h.contexts.NewContext(c.Writer, c.Request, providerName)

	// allowEmailShift and return_to from the query survive the redirect
	if _, err := h.transient.Begin(ac.Response(), ac.Request()); err != nil {
		logger.Error("transient parameters not stored", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to start login",
		})
		return
	}

	if err := p.Init(ac); err != nil {
		logger.Error("provider init failed", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to start login",
		})
		return
	}
}

func (h *Handler) callback(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown identity provider",
		})
		return
	}

	ac := h.contexts.NewContext(c.Writer, c.Request, providerName)
	flow := h.transient.Flow(ac.Response(), ac.Request())
	returnTo := flow.ReturnTo()

	err = p.Callback(ac)

	// Authenticate consumes the flow; this covers callbacks that never reach
	// it. Cookies must be expired before the response is written.
	flow.DeleteAll()

	if err != nil {
		if errors.Is(err, provider.ErrProtocol) {
			h.metrics.Attempt(providerName, metrics.OutcomeProviderError)
		}
		h.fail(c, providerName, err)
		return
	}

	c.Request = ac.Request()
	c.Redirect(http.StatusFound, returnTo)
}

// fail maps pipeline errors to responses. Only conflicts carry details.
func (h *Handler) fail(c *gin.Context, providerName string, err error) {
	logger.Warn("login failed", map[string]any{
		"provider": providerName,
		"ip":       c.ClientIP(),
		"error":    err.Error(),
	})

	var conflict *auth.IdentityConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "identity_conflict",
			"message": conflict.Message(),
		})
	case errors.Is(err, auth.ErrUnauthenticatedCallback),
		errors.Is(err, auth.ErrStorageRace),
		errors.Is(err, provider.ErrProtocol):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "authentication failed",
		})
	case errors.Is(err, auth.ErrTokenIssuance):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "server misconfigured",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "authentication error",
		})
	}
}

func (h *Handler) Logout(c *gin.Context) {
	sid, err := h.issuer.Revoke(c.Request.Context(), c.Writer, c.Request)
	if err != nil {
		// cookie is cleared anyway; the session expires with its TTL
		logger.Error("session revoke failed", map[string]any{
			"sid":   sid,
			"error": err.Error(),
		})
	} else if sid != "" {
		logger.Info("logout", map[string]any{
			"sid": sid,
			"ip":  c.ClientIP(),
		})
	}

	c.Status(http.StatusNoContent)
}
