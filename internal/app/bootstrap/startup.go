// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/stratamind/internal/app/store/challenges"
	"github.com/dalemusser/stratamind/internal/app/store/emailverify"
	"github.com/dalemusser/stratamind/internal/app/store/passwordreset"
	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/tasks"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs once after DB connections and schema/index setup are complete,
// but before the HTTP handler is built and requests are served.
//
// Returning a non-nil error aborts startup.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	startTaskRunner(appCfg, deps, logger)
	return nil
}

// taskRunner is the global task runner instance, used for graceful shutdown.
var taskRunner *tasks.Runner

// startTaskRunner registers the expiry sweeps and starts them. MongoDB TTL
// indexes remove the same records eventually; the sweeps keep the delay short.
func startTaskRunner(appCfg AppConfig, deps DBDeps, logger *zap.Logger) {
	db := deps.MongoDatabase
	taskRunner = tasks.New(logger)

	taskRunner.Register(tasks.ChallengeCleanupJob(challenges.New(db, appCfg.ChallengeTTL), logger))
	taskRunner.Register(tasks.SessionCleanupJob(sessions.New(db), logger))
	taskRunner.Register(tasks.EmailVerificationCleanupJob(emailverify.New(db, appCfg.EmailVerifyExpiry), logger))
	taskRunner.Register(tasks.PasswordResetCleanupJob(passwordreset.New(db, appCfg.PasswordResetExpiry), logger))

	taskRunner.Start()
	logger.Info("background task runner started", zap.Strings("jobs", taskRunner.Jobs()))
}
