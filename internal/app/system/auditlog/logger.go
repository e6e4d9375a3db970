// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"

	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destination settings for a category.
const (
	ModeAll = "all" // MongoDB + zap
	ModeDB  = "db"  // MongoDB only
	ModeLog = "log" // zap only
	ModeOff = "off" // disabled
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for login, second-factor and session events.
	Auth string
	// Account controls logging for registration and email verification events.
	Account string
}

// Logger writes audit events to MongoDB (via audit.Store) and zap.
// A nil *Logger is valid and discards everything.
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{store: store, zapLog: zapLog, config: config}
}

func (l *Logger) modeFor(category string) string {
	var mode string
	switch category {
	case audit.CategoryAuth:
		mode = l.config.Auth
	case audit.CategoryAccount:
		mode = l.config.Account
	}
	if mode == "" {
		return ModeAll
	}
	return mode
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.AccountID != nil {
		fields = append(fields, zap.String("account_id", event.AccountID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event according to the category's mode.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	mode := l.modeFor(event.Category)
	if mode == ModeOff {
		return
	}
	if (mode == ModeAll || mode == ModeLog) && l.zapLog != nil {
		l.logToZap(event)
	}
	if (mode == ModeAll || mode == ModeDB) && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil && l.zapLog != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType))
		}
	}
}

// Auth records an authentication event.
func (l *Logger) Auth(ctx context.Context, o network.Origin, eventType string, accountID *primitive.ObjectID, failureReason string, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     eventType,
		AccountID:     accountID,
		IP:            o.IP,
		UserAgent:     o.UserAgent,
		Success:       failureReason == "",
		FailureReason: failureReason,
		Details:       details,
	})
}

// Account records an account lifecycle event.
func (l *Logger) Account(ctx context.Context, o network.Origin, eventType string, accountID *primitive.ObjectID, failureReason string, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAccount,
		EventType:     eventType,
		AccountID:     accountID,
		IP:            o.IP,
		UserAgent:     o.UserAgent,
		Success:       failureReason == "",
		FailureReason: failureReason,
		Details:       details,
	})
}

// --- Second-factor handshake ---

// SecondFactorIssued logs a challenge being handed to the client.
func (l *Logger) SecondFactorIssued(ctx context.Context, o network.Origin, accountID primitive.ObjectID, challenge string, enrollment bool) {
	l.Auth(ctx, o, audit.EventSecondFactorIssued, &accountID, "", map[string]string{
		"challenge":  TokenPrefix(challenge),
		"enrollment": boolString(enrollment),
	})
}

// SecondFactorVerified logs a successful code check.
func (l *Logger) SecondFactorVerified(ctx context.Context, o network.Origin, accountID primitive.ObjectID, challenge string) {
	l.Auth(ctx, o, audit.EventSecondFactorVerified, &accountID, "", map[string]string{
		"challenge": TokenPrefix(challenge),
	})
}

// SecondFactorFailed logs a rejected code or unusable challenge.
func (l *Logger) SecondFactorFailed(ctx context.Context, o network.Origin, accountID *primitive.ObjectID, challenge, reason string) {
	l.Auth(ctx, o, audit.EventSecondFactorFailed, accountID, reason, map[string]string{
		"challenge": TokenPrefix(challenge),
	})
}

// SecondFactorExpired logs a code submitted against an expired challenge.
func (l *Logger) SecondFactorExpired(ctx context.Context, o network.Origin, challenge string) {
	l.Auth(ctx, o, audit.EventSecondFactorExpired, nil, "challenge_expired", map[string]string{
		"challenge": TokenPrefix(challenge),
	})
}

// SecondFactorEnrolled logs the first confirmation of an account's secret.
func (l *Logger) SecondFactorEnrolled(ctx context.Context, o network.Origin, accountID primitive.ObjectID) {
	l.Auth(ctx, o, audit.EventSecondFactorEnrolled, &accountID, "", nil)
}

// SessionIssued logs a new bearer session.
func (l *Logger) SessionIssued(ctx context.Context, o network.Origin, accountID primitive.ObjectID, sessionID string) {
	l.Auth(ctx, o, audit.EventSessionIssued, &accountID, "", map[string]string{
		"session_id": sessionID,
	})
}

// Logout logs a session being revoked by its owner.
func (l *Logger) Logout(ctx context.Context, o network.Origin, accountID primitive.ObjectID, sessionID string) {
	l.Auth(ctx, o, audit.EventLogout, &accountID, "", map[string]string{
		"session_id": sessionID,
	})
}

// TokenPrefix returns a short, non-secret prefix of a token for logs.
func TokenPrefix(token string) string {
	const n = 8
	if len(token) <= n {
		return token
	}
	return token[:n]
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
