// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredDeleter is implemented by stores that can sweep records past their expiry.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob builds a job that calls DeleteExpired on every tick and logs
// how many records were removed.
func CleanupJob(name string, interval time.Duration, what string, store ExpiredDeleter, logger *zap.Logger) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("cleaned up expired "+what, zap.Int64("deleted", n))
			}
			return nil
		},
	}
}

// ChallengeCleanupJob removes expired second-factor challenges.
// Reads already treat expired challenges as absent; this only reclaims space.
func ChallengeCleanupJob(store ExpiredDeleter, logger *zap.Logger) Job {
	return CleanupJob("challenge-cleanup", time.Minute, "second-factor challenges", store, logger)
}

// SessionCleanupJob removes expired sessions.
func SessionCleanupJob(store ExpiredDeleter, logger *zap.Logger) Job {
	return CleanupJob("session-cleanup", time.Hour, "sessions", store, logger)
}

// EmailVerificationCleanupJob removes expired email verification tokens.
func EmailVerificationCleanupJob(store ExpiredDeleter, logger *zap.Logger) Job {
	return CleanupJob("email-verification-cleanup", time.Hour, "email verification tokens", store, logger)
}

// PasswordResetCleanupJob removes expired password reset tokens.
func PasswordResetCleanupJob(store ExpiredDeleter, logger *zap.Logger) Job {
	return CleanupJob("password-reset-cleanup", time.Hour, "password reset tokens", store, logger)
}
