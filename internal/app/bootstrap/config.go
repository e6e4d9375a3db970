// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/keys"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// EnvVarPrefix is the prefix for environment variables.
const EnvVarPrefix = "STRATAMIND"

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, token_signing_key, etc.
//   - Environment variables: STRATAMIND_MONGO_URI, STRATAMIND_TOKEN_SIGNING_KEY, etc.
//   - Command-line flags: --mongo_uri, --token_signing_key, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "stratamind", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Redis (code attempt limiter)
	{Name: "redis_addr", Default: "", Desc: "Redis address for the code attempt limiter (blank disables it)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis logical database"},

	// Secrets
	{Name: "token_signing_key", Default: "dev-only-token-signing-key-change-me-0123456789", Desc: "Bearer token signing key (32+ random chars in production)"},
	{Name: "second_factor_key", Default: "dev-only-second-factor-key-change-me-0123456789", Desc: "Key that seals TOTP secrets at rest (32+ random chars in production)"},

	// Second factor
	{Name: "second_factor_issuer", Default: "Stratamind", Desc: "Issuer label shown in authenticator apps"},
	{Name: "second_factor_period", Default: 30, Desc: "TOTP step length in seconds"},
	{Name: "second_factor_skew", Default: 2, Desc: "TOTP steps accepted on either side of the current one"},
	{Name: "challenge_ttl", Default: "5m", Desc: "Second-factor challenge lifetime"},
	{Name: "code_attempt_limit", Default: 5, Desc: "Wrong codes allowed per challenge (requires redis_addr)"},
	{Name: "code_attempt_window", Default: "5m", Desc: "Lifetime of a challenge's failure counter"},

	// Sessions
	{Name: "session_ttl", Default: "168h", Desc: "Bearer session lifetime (e.g., 24h, 168h)"},

	// Password lockout
	{Name: "rate_limit_enabled", Default: true, Desc: "Enable lockout after repeated wrong passwords"},
	{Name: "rate_limit_login_attempts", Default: 5, Desc: "Max failed login attempts before lockout"},
	{Name: "rate_limit_login_window", Default: "15m", Desc: "Time window for counting failed attempts"},
	{Name: "rate_limit_login_lockout", Default: "15m", Desc: "Lockout duration after exceeding limit"},

	{Name: "cors_allowed_origins", Default: "", Desc: "Comma-separated origins allowed to call /auth (blank allows any)"},

	// Notifications
	{Name: "base_url", Default: "http://localhost:8080", Desc: "Base URL for links in notifications"},
	{Name: "mail_app_name", Default: "Stratamind", Desc: "Product name used in notifications"},
	{Name: "mail_log_body", Default: false, Desc: "Log notification bodies including links (development only)"},
	{Name: "email_verify_expiry", Default: "24h", Desc: "Email verification link expiry (e.g., 10m, 24h)"},
	{Name: "password_reset_expiry", Default: "1h", Desc: "Password reset link expiry"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_account", Default: "all", Desc: "Account event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Account seeding
	{Name: "seed_account_email", Default: "", Desc: "Email of an account to create on startup"},
	{Name: "seed_account_name", Default: "Administrator", Desc: "Name of the seeded account"},
	{Name: "seed_account_password", Default: "", Desc: "Password of the seeded account"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env files, config files,
// STRATAMIND_* environment variables and flags, merged with precedence
// flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: appValues.Int("mongo_max_pool_size"),
		MongoMinPoolSize: appValues.Int("mongo_min_pool_size"),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),

		TokenSigningKey: appValues.String("token_signing_key"),
		SecondFactorKey: appValues.String("second_factor_key"),

		SecondFactorIssuer: appValues.String("second_factor_issuer"),
		SecondFactorPeriod: appValues.Int("second_factor_period"),
		SecondFactorSkew:   appValues.Int("second_factor_skew"),
		ChallengeTTL:       appValues.Duration("challenge_ttl", 5*time.Minute),
		CodeAttemptLimit:   appValues.Int("code_attempt_limit"),
		CodeAttemptWindow:  appValues.Duration("code_attempt_window", 5*time.Minute),

		SessionTTL: appValues.Duration("session_ttl", 7*24*time.Hour),

		RateLimitEnabled:       appValues.Bool("rate_limit_enabled"),
		RateLimitLoginAttempts: appValues.Int("rate_limit_login_attempts"),
		RateLimitLoginWindow:   appValues.Duration("rate_limit_login_window", 15*time.Minute),
		RateLimitLoginLockout:  appValues.Duration("rate_limit_login_lockout", 15*time.Minute),

		CORSAllowedOrigins: splitList(appValues.String("cors_allowed_origins")),

		BaseURL:             strings.TrimRight(appValues.String("base_url"), "/"),
		MailAppName:         appValues.String("mail_app_name"),
		MailLogBody:         appValues.Bool("mail_log_body"),
		EmailVerifyExpiry:   appValues.Duration("email_verify_expiry", 24*time.Hour),
		PasswordResetExpiry: appValues.Duration("password_reset_expiry", time.Hour),

		AuditLogAuth:    appValues.String("audit_log_auth"),
		AuditLogAccount: appValues.String("audit_log_account"),

		SeedAccountEmail:    appValues.String("seed_account_email"),
		SeedAccountName:     appValues.String("seed_account_name"),
		SeedAccountPassword: appValues.String("seed_account_password"),
	}

	return coreCfg, appCfg, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig performs app-specific config validation.
//
// Weak or placeholder secrets are fatal in prod and logged as warnings
// elsewhere. Range checks apply in every environment.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if err := checkAppConfig(appCfg, coreCfg.Env == "prod"); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}

	for name, key := range map[string]string{
		"token_signing_key": appCfg.TokenSigningKey,
		"second_factor_key": appCfg.SecondFactorKey,
	} {
		if keys.IsWeak(key) {
			logger.Warn("using a weak or default key; set a strong one before deploying", zap.String("key", name))
		}
	}
	return nil
}

const (
	maxSecondFactorPeriod = 300
	maxSecondFactorSkew   = 10
)

// checkAppConfig validates appCfg. strict rejects weak secrets.
func checkAppConfig(appCfg AppConfig, strict bool) error {
	var errs []error

	if err := keys.Check("token_signing_key", appCfg.TokenSigningKey, strict); err != nil {
		errs = append(errs, err)
	}
	if err := keys.Check("second_factor_key", appCfg.SecondFactorKey, strict); err != nil {
		errs = append(errs, err)
	}
	if appCfg.TokenSigningKey != "" && appCfg.TokenSigningKey == appCfg.SecondFactorKey {
		errs = append(errs, errors.New("token_signing_key and second_factor_key must differ"))
	}

	if appCfg.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("challenge_ttl must be positive"))
	}
	if appCfg.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if appCfg.SecondFactorPeriod <= 0 || appCfg.SecondFactorPeriod > maxSecondFactorPeriod {
		errs = append(errs, fmt.Errorf("second_factor_period %d must be between 1 and %d", appCfg.SecondFactorPeriod, maxSecondFactorPeriod))
	}
	if appCfg.SecondFactorSkew < 0 || appCfg.SecondFactorSkew > maxSecondFactorSkew {
		errs = append(errs, fmt.Errorf("second_factor_skew %d must be between 0 and %d", appCfg.SecondFactorSkew, maxSecondFactorSkew))
	}
	if appCfg.MongoMaxPoolSize < 0 || appCfg.MongoMinPoolSize < 0 {
		errs = append(errs, errors.New("mongo pool sizes must not be negative"))
	} else if appCfg.MongoMaxPoolSize > 0 && appCfg.MongoMinPoolSize > appCfg.MongoMaxPoolSize {
		errs = append(errs, fmt.Errorf("mongo_min_pool_size %d exceeds mongo_max_pool_size %d", appCfg.MongoMinPoolSize, appCfg.MongoMaxPoolSize))
	}

	for name, mode := range map[string]string{
		"audit_log_auth":    appCfg.AuditLogAuth,
		"audit_log_account": appCfg.AuditLogAccount,
	} {
		switch mode {
		case "", auditlog.ModeAll, auditlog.ModeDB, auditlog.ModeLog, auditlog.ModeOff:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown mode %q", name, mode))
		}
	}

	if appCfg.SeedAccountEmail != "" && appCfg.SeedAccountPassword == "" {
		errs = append(errs, errors.New("seed_account_password is required when seed_account_email is set"))
	}

	return errors.Join(errs...)
}
