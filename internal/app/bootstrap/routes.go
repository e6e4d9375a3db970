// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	auditlogfeature "github.com/dalemusser/stratamind/internal/app/features/auditlog"
	healthfeature "github.com/dalemusser/stratamind/internal/app/features/health"
	loginfeature "github.com/dalemusser/stratamind/internal/app/features/login"
	logoutfeature "github.com/dalemusser/stratamind/internal/app/features/logout"
	passwordfeature "github.com/dalemusser/stratamind/internal/app/features/password"
	profilefeature "github.com/dalemusser/stratamind/internal/app/features/profile"
	registerfeature "github.com/dalemusser/stratamind/internal/app/features/register"
	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/store/challenges"
	"github.com/dalemusser/stratamind/internal/app/store/ratelimit"
	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/apicors"
	"github.com/dalemusser/stratamind/internal/app/system/attemptlimit"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/auth"
	"github.com/dalemusser/stratamind/internal/app/system/bearer"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/app/system/secretbox"
	"github.com/dalemusser/stratamind/internal/app/system/twofactor"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed. The login handshake is assembled here from its
// stores and mounted, with the account endpoints, under /auth.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	db := deps.MongoDatabase

	auditLogger := auditlog.New(audit.New(db), logger, auditlog.Config{
		Auth:    appCfg.AuditLogAuth,
		Account: appCfg.AuditLogAccount,
	})

	box, err := secretbox.New(appCfg.SecondFactorKey)
	if err != nil {
		logger.Error("secret box init failed", zap.Error(err))
		return nil, err
	}
	tokens, err := bearer.NewManager(bearer.Config{
		SigningKey: appCfg.TokenSigningKey,
		Issuer:     "stratamind",
		TTL:        appCfg.SessionTTL,
	})
	if err != nil {
		logger.Error("bearer token manager init failed", zap.Error(err))
		return nil, err
	}

	accounts := accountstore.New(db)
	challengeStore := challenges.New(db, appCfg.ChallengeTTL)
	sessionsStore := sessions.New(db)

	// A nil limiter never limits.
	var limiter *attemptlimit.Limiter
	if deps.Redis != nil {
		limiter = attemptlimit.New(deps.Redis, appCfg.CodeAttemptLimit, appCfg.CodeAttemptWindow)
	}

	totpCfg := twofactor.TOTPConfig{
		Issuer: appCfg.SecondFactorIssuer,
		Period: uint(appCfg.SecondFactorPeriod),
		Skew:   uint(appCfg.SecondFactorSkew),
	}
	handshake := twofactor.NewHandshake(
		twofactor.NewCredentialVerifier(accounts),
		twofactor.NewIssuer(challengeStore, box, totpCfg),
		twofactor.NewVerifier(twofactor.VerifierDeps{
			Challenges: challengeStore,
			Accounts:   accounts,
			Sessions:   twofactor.NewSessionIssuer(tokens, sessionsStore),
			Box:        box,
			Limiter:    limiter,
			Audit:      auditLogger,
			Logger:     logger,
		}, totpCfg),
		auditLogger,
	)
	authn := auth.NewAuthenticator(tokens, sessionsStore, accounts, logger)

	var rateLimitStore *ratelimit.Store
	if appCfg.RateLimitEnabled {
		rateLimitStore = ratelimit.New(
			db,
			appCfg.RateLimitLoginAttempts,
			appCfg.RateLimitLoginWindow,
			appCfg.RateLimitLoginLockout,
		)
	}

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────────

	r.Use(chimw.RequestID)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	healthfeature.MountRootEndpoints(r, healthfeature.NewHandler(deps.MongoClient, deps.Redis, logger))

	loginHandler := loginfeature.NewHandler(handshake, rateLimitStore, auditLogger, logger)
	registerHandler := registerfeature.NewHandler(
		db,
		deps.Mailer,
		deps.Mailer,
		auditLogger,
		appCfg.BaseURL,
		appCfg.EmailVerifyExpiry,
		logger,
	)
	passwordHandler := passwordfeature.NewHandler(
		db,
		sessionsStore,
		deps.Mailer,
		deps.Mailer,
		auditLogger,
		appCfg.BaseURL,
		appCfg.PasswordResetExpiry,
		logger,
	)
	profileHandler := profilefeature.NewHandler(
		db,
		sessionsStore,
		deps.Mailer,
		deps.Mailer,
		auditLogger,
		appCfg.BaseURL,
		appCfg.EmailVerifyExpiry,
		logger,
	)
	logoutHandler := logoutfeature.NewHandler(auditLogger, sessionsStore, logger)
	activityHandler := auditlogfeature.NewHandler(db, logger)

	// ─────────────────────────────────────────────────────────────────────────────
	// /auth: bearer-token JSON API
	// ─────────────────────────────────────────────────────────────────────────────
	r.Route("/auth", func(ar chi.Router) {
		ar.Use(apicors.Middleware(appCfg.CORSAllowedOrigins...))

		// Public
		loginfeature.MountRoutes(ar, loginHandler)
		registerfeature.MountRoutes(ar, registerHandler)
		passwordfeature.MountRoutes(ar, passwordHandler)

		// Bearer session required
		profilefeature.MountRoutes(ar, profileHandler, authn)
		logoutfeature.MountRoutes(ar, logoutHandler, authn)
		auditlogfeature.MountRoutes(ar, activityHandler, authn)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		jsonutil.NotFound(w, "no route for "+req.Method+" "+req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		jsonutil.Error(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	logger.Info("routes built",
		zap.Bool("code_attempt_limiter", limiter != nil),
		zap.Bool("password_lockout", rateLimitStore != nil),
		zap.Duration("challenge_ttl", challengeStore.TTL()),
		zap.Duration("session_ttl", tokens.TTL()),
	)
	return r, nil
}
