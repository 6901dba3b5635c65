package app

import (
	"context"
	"strings"

	"vault-auth/internal/auth/flow"
	"vault-auth/internal/auth/handler"
	"vault-auth/internal/auth/redirect"
	"vault-auth/internal/auth/request"
	"vault-auth/internal/auth/resolver"
	"vault-auth/internal/auth/wallet"
	"vault-auth/internal/config"
	"vault-auth/internal/gateway/httpgw"
	"vault-auth/internal/middleware"
	"vault-auth/internal/profile"
	"vault-auth/internal/referral"
	"vault-auth/internal/session"

	"github.com/gin-gonic/gin"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	gw, err := httpgw.New(ctx, httpgw.Config{
		BaseURL:     cfg.GatewayBaseURL,
		APIKey:      cfg.GatewayAPIKey,
		ServiceKey:  cfg.GatewayServiceKey,
		JWTSecret:   cfg.GatewayJWTSecret,
		Issuer:      cfg.GatewayIssuer,
		ClientID:    cfg.GatewayClientID,
		RedirectURL: strings.TrimRight(cfg.PublicOrigin, "/") + cfg.CallbackPath,
		Providers:   cfg.OAuthProviders,
	})
	if err != nil {
		return nil, nil, err
	}

	secure := cfg.AppEnv != "development"

	sessionStore := session.NewRedisStore(infra.Redis.Client)
	flowStore := flow.NewRedisStore(infra.Redis.Client)
	nonceStore := wallet.NewRedisNonceStore(infra.Redis.Client)
	profileStore := profile.NewPostgresStore(infra.DB)

	policy := redirect.New(
		cfg.PublicOrigin,
		cfg.DeepLinkSchemes,
		cfg.OnboardingPath,
		cfg.DefaultPath,
	)

	builder := request.NewBuilder(gw, flowStore, policy, request.Options{
		OTPTTL:       cfg.OTPTTL,
		MagicLinkTTL: cfg.MagicLinkTTL,
	})

	authResolver := resolver.New(gw, profileStore, flowStore, resolver.RetryPolicy{
		Attempts: cfg.SessionRetryAttempts,
		Delay:    cfg.SessionRetryDelay,
	})

	verifier := wallet.NewVerifier(nonceStore, cfg.NonceTTL)

	authHandler := handler.NewHandler(handler.Deps{
		Builder:  builder,
		Resolver: authResolver,
		Verifier: verifier,
		Admin:    gw,
		Flows:    flowStore,
		Sessions: sessionStore,
		Profiles: profileStore,
		Policy:   policy,
		RefJar: referral.Jar{
			Path:   "/",
			Secure: secure,
		},
		SessionTTL: cfg.SessionTTL,
		Secure:     secure,
	})

	authMiddleware := middleware.NewAuthMiddleware(sessionStore)
	limiter := middleware.NewRateLimiter(1, 5) // 1 req/s, burst 5, per IP

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	// ----------------------------
	// Public Routes
	// ----------------------------

	authHandler.RegisterRoutes(router, limiter.GinLimit())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := router.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", authHandler.Me)

	// ----------------------------
	// Cleanup
	// ----------------------------

	return router, func() error {
		return infra.DB.Close()
	}, nil
}
