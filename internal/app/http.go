package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"identity-service/internal/auth/authctx"
	"identity-service/internal/auth/handler"
	"identity-service/internal/auth/provider"
	"identity-service/internal/auth/provider/github"
	"identity-service/internal/auth/provider/google"
	"identity-service/internal/auth/provider/keycloak"
	"identity-service/internal/auth/resolver"
	"identity-service/internal/auth/transient"
	"identity-service/internal/config"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/middleware"
	"identity-service/internal/session"
	"identity-service/internal/user"
	"identity-service/internal/utils"
	"identity-service/internal/webhook"
)

func setupHTTP(ctx context.Context, cfg config.Config, infra *Infra) (*gin.Engine, error) {

	// ----------------------------
	// Dependencies
	// ----------------------------

	m := metrics.New()
	users := user.NewBunStore(infra.DB)
	identityResolver := resolver.NewDBResolver(users, m)

	if len(cfg.SessionSigningKey) < session.MinKeyLength {
		logger.Warn("SESSION_SIGNING_KEY is not set; logins will fail until it is configured", nil)
	}
	issuer := session.NewIssuer(
		session.NewTokenCodec([]byte(cfg.SessionSigningKey), cfg.SessionIssuer),
		session.NewRedisStore(infra.Redis.Client),
		cfg.SessionTTL,
		session.CookieOptions{Secure: cfg.CookieSecure},
	)

	transientStore, err := newTransientStore(cfg)
	if err != nil {
		return nil, err
	}

	contexts := authctx.NewFactory(cfg.PublicBaseURL, transientStore, identityResolver, issuer, m)

	registry, err := setupProviders(ctx, cfg, transientStore)
	if err != nil {
		return nil, err
	}
	logger.Info("identity providers registered", map[string]any{
		"providers": registry.Names(),
	})

	authHandler := handler.NewHandler(registry, contexts, transientStore, issuer, m)
	authMiddleware := middleware.NewAuthMiddleware(issuer)
	webhookHandler := webhook.NewHandler(webhook.NewStore(infra.DB, cfg.DefaultOrgKey))

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	// ----------------------------
	// Public Routes
	// ----------------------------

	authHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(m.Handler()))

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", func(c *gin.Context) {
		p, _ := session.PrincipalFromContext(c.Request.Context())

		u, err := users.FindByID(c.Request.Context(), p.UserID)
		if errors.Is(err, user.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err != nil {
			logger.Error("load current user failed", map[string]any{
				"user_id": p.UserID,
				"error":   err.Error(),
			})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user_id":    u.ID,
			"login":      u.Login,
			"name":       u.Name,
			"email":      u.Email,
			"expires_at": p.ExpiresAt,
		})
	})

	webhookHandler.RegisterRoutes(api)

	return router, nil
}

func setupProviders(ctx context.Context, cfg config.Config, ts *transient.Store) (*provider.Registry, error) {
	var list []provider.IdentityProvider

	if cfg.GoogleEnabled() {
		p, err := google.New(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, ts)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if cfg.KeycloakEnabled() {
		p, err := keycloak.New(ctx, cfg.KeycloakIssuer, cfg.KeycloakClientID, cfg.KeycloakRedirectURL, cfg.KeycloakPublicBaseURL, ts)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if cfg.GitHubEnabled() {
		p, err := github.New(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL, ts)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	return provider.NewRegistry(list...)
}

// newTransientStore uses the configured cookie keys, or random ones. Random
// keys do not survive a restart, so logins in flight at that moment fail.
func newTransientStore(cfg config.Config) (*transient.Store, error) {
	hashKey, encryptKey := []byte(cfg.TransientHashKey), []byte(cfg.TransientEncryptKey)

	if len(hashKey) == 0 || len(encryptKey) == 0 {
		logger.Warn("transient cookie keys not configured, generating random keys", nil)

		h, err := utils.RandomString(48)
		if err != nil {
			return nil, err
		}
		e, err := utils.RandomString(24)
		if err != nil {
			return nil, err
		}
		hashKey, encryptKey = []byte(h), []byte(e)
	}

	ts, err := transient.New(transient.Options{
		HashKey:    hashKey,
		EncryptKey: encryptKey,
		TTL:        cfg.TransientTTL,
		Secure:     cfg.CookieSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return ts, nil
}
