package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SspStark/adminsphere-server/internal/audit"
	"github.com/SspStark/adminsphere-server/internal/auth/credentials"
	"github.com/SspStark/adminsphere-server/internal/auth/engine"
	"github.com/SspStark/adminsphere-server/internal/auth/handler"
	"github.com/SspStark/adminsphere-server/internal/auth/notify"
	"github.com/SspStark/adminsphere-server/internal/auth/provider"
	"github.com/SspStark/adminsphere-server/internal/auth/provider/google"
	"github.com/SspStark/adminsphere-server/internal/auth/provider/keycloak"
	"github.com/SspStark/adminsphere-server/internal/auth/resolver"
	"github.com/SspStark/adminsphere-server/internal/auth/token"
	"github.com/SspStark/adminsphere-server/internal/config"
	"github.com/SspStark/adminsphere-server/internal/identity"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/mail"
	"github.com/SspStark/adminsphere-server/internal/middleware"
	"github.com/SspStark/adminsphere-server/internal/ratelimit"
	"github.com/SspStark/adminsphere-server/internal/realtime"
	"github.com/SspStark/adminsphere-server/internal/session"
)

// services are the long-running pieces the HTTP layer feeds.
type services struct {
	router   *gin.Engine
	notifier *notify.Notifier
	recorder *audit.Recorder
}

func setupHTTP(ctx context.Context, cfg config.Config, infra *Infra) (*services, error) {
	// ----------------------------
	// Dependencies
	// ----------------------------

	store := identity.NewPostgresStore(infra.DB)
	hasher := credentials.Hasher{}

	verifier, err := credentials.NewVerifier(store, hasher)
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	providers, err := setupProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessions := session.NewRegistry(infra.Cache)
	hub := realtime.NewHub()
	notifier := notify.New(hub, notify.Options{Metrics: infra.Metrics})
	auditSink := audit.NewPostgresSink(infra.DB)
	recorder := audit.NewRecorder(auditSink, audit.Options{Metrics: infra.Metrics})

	eng := engine.New(engine.Deps{
		Store:        store,
		Verifier:     verifier,
		Guard:        credentials.NewGuard(store, cfg.LockoutThreshold, cfg.LockoutDuration),
		Hasher:       hasher,
		Sessions:     sessions,
		Resets:       session.NewResetStore(infra.Cache, issuer),
		Issuer:       issuer,
		Providers:    providers,
		Resolver:     resolver.NewLinker(store),
		Notifier:     notifier,
		Audit:        recorder,
		AuditLog:     auditSink,
		Mailer:       mail.LogMailer{},
		Metrics:      infra.Metrics,
		ResetURLBase: cfg.ResetURLBase,
	})

	cookie := session.CookieOptions{Secure: cfg.CookieSecure}
	authMiddleware := middleware.NewAuthMiddleware(issuer, sessions, store, cookie)

	authHandler := handler.NewHandler(eng, providers, authMiddleware,
		ratelimit.New(infra.Cache, infra.Metrics),
		handler.Options{
			Cookie:     cookie,
			ClientURL:  cfg.ClientURL,
			LoginRule:  ratelimit.Rule{Bucket: "login", Limit: cfg.LoginRateLimit, Window: cfg.LoginRateWindow},
			ForgotRule: ratelimit.Rule{Bucket: "forgot", Limit: cfg.ForgotRateLimit, Window: cfg.ForgotRateWindow},
		},
	)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	// without configured proxies the client IP is the socket peer, so
	// X-Forwarded-For cannot dodge the per-IP limits or forge audit IPs
	if err := router.SetTrustedProxies(trustedProxies(cfg)); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(logger.Named("http")),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.ClientURL),
	)

	authHandler.RegisterRoutes(router)

	router.GET("/ws", gin.WrapH(hub.Handler(realtime.AuthenticatorFunc(authMiddleware.UserID))))
	router.GET("/metrics", gin.WrapH(infra.Metrics.Handler()))

	router.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := infra.DB.PingContext(pingCtx); err != nil {
			dbStatus = "unavailable"
		}
		cacheStatus := "ok"
		if !infra.Cache.Available() {
			cacheStatus = "degraded"
		}

		status := http.StatusOK
		if dbStatus != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status": dbStatus,
			"cache":  cacheStatus,
		})
	})

	return &services{
		router:   router,
		notifier: notifier,
		recorder: recorder,
	}, nil
}

func trustedProxies(cfg config.Config) []string {
	if len(cfg.TrustedProxies) == 0 {
		return nil
	}
	return cfg.TrustedProxies
}

// setupProviders registers each provider that has configuration. OAUTH_PROVIDER
// picks the default one used by /oauth/start.
func setupProviders(ctx context.Context, cfg config.Config) (*provider.Registry, error) {
	opts := provider.Options{
		Timeout:    cfg.OAuthTimeout,
		RatePerSec: cfg.OAuthRatePerSec,
	}

	var list []provider.OAuthProvider

	if cfg.GoogleClientID != "" {
		p, err := google.New(ctx, google.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, opts)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		list = append(list, p)
	}

	if cfg.KeycloakIssuer != "" {
		p, err := keycloak.New(ctx, keycloak.Config{
			Issuer:        cfg.KeycloakIssuer,
			ClientID:      cfg.KeycloakClientID,
			RedirectURL:   cfg.KeycloakRedirectURL,
			PublicBaseURL: cfg.KeycloakPublicBaseURL,
		}, opts)
		if err != nil {
			return nil, fmt.Errorf("keycloak provider: %w", err)
		}
		list = append(list, p)
	}

	registry := provider.NewRegistry(list...)
	if registry.Len() == 0 {
		logger.Warn("no oauth provider configured, oauth login disabled", nil)
		return registry, nil
	}

	if cfg.OAuthProvider != "" {
		if err := registry.SetDefault(cfg.OAuthProvider); err != nil {
			logger.Warn("configured default oauth provider is not set up", map[string]any{
				"provider": cfg.OAuthProvider,
			})
		}
	}
	return registry, nil
}
