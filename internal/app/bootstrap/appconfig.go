// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// Values come from environment variables (STRATAMIND_*), configuration files,
// or command-line flags, loaded in LoadConfig. WAFFLE's CoreConfig covers the
// framework side (ports, TLS, logging level, body limits); everything here is
// specific to the login service.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize int    // Maximum connections in pool (default: 100)
	MongoMinPoolSize int    // Minimum connections to keep warm (default: 10)

	// Redis backs the per-challenge code attempt limiter. Empty RedisAddr disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Secrets. Both must be strong in production.
	TokenSigningKey string // HS256 key for bearer tokens
	SecondFactorKey string // key that seals TOTP secrets at rest

	// Second factor
	SecondFactorIssuer string        // label shown in authenticator apps
	SecondFactorPeriod int           // seconds per TOTP step, 1-300 (default: 30)
	SecondFactorSkew   int           // steps accepted either side of now, 0-10 (default: 2)
	ChallengeTTL       time.Duration // challenge lifetime (default: 5m)
	CodeAttemptLimit   int           // wrong codes allowed per challenge (default: 5)
	CodeAttemptWindow  time.Duration // lifetime of a challenge's failure counter (default: 5m)

	// Sessions
	SessionTTL time.Duration // bearer token and session lifetime (default: 168h)

	// Password lockout
	RateLimitEnabled       bool          // Enable lockout after repeated wrong passwords (default: true)
	RateLimitLoginAttempts int           // Max failed login attempts before lockout (default: 5)
	RateLimitLoginWindow   time.Duration // Time window for counting failed attempts (default: 15m)
	RateLimitLoginLockout  time.Duration // Lockout duration after exceeding limit (default: 15m)

	// CORS for the /auth API. Empty means any origin.
	CORSAllowedOrigins []string

	// Notifications
	BaseURL             string        // prefix for links in notifications (e.g., https://app.example.com)
	MailAppName         string        // product name used in notification text
	MailLogBody         bool          // log notification bodies, links included (development only)
	EmailVerifyExpiry   time.Duration // email verification link lifetime (default: 24h)
	PasswordResetExpiry time.Duration // password reset link lifetime (default: 1h)

	// Audit logging configuration
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	AuditLogAuth    string // login, second-factor, session, and logout events
	AuditLogAccount string // registration, verification, and password events

	// Account seeding
	SeedAccountEmail    string // Email of an account to create on startup (if set)
	SeedAccountName     string
	SeedAccountPassword string
}
