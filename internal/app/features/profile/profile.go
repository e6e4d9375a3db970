// internal/app/features/profile/profile.go
package profile

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/store/emailverify"
	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/auth"
	"github.com/dalemusser/stratamind/internal/app/system/authutil"
	"github.com/dalemusser/stratamind/internal/app/system/htmlsanitize"
	"github.com/dalemusser/stratamind/internal/app/system/inputval"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/app/system/mailer"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/dalemusser/stratamind/internal/app/system/normalize"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Error codes specific to the account endpoints.
const (
	CodeWrongPassword  = "wrong_password"
	CodeEmailTaken     = "email_taken"
	CodeUseLogout      = "use_logout"
	CodeSessionMissing = "session_not_found"
)

// Handler provides the signed-in account endpoints.
type Handler struct {
	accountStore      *accountstore.Store
	emailVerifyStore  *emailverify.Store
	sessionsStore     *sessions.Store
	mailer            *mailer.Mailer
	notifier          mailer.Notifier
	auditLogger       *auditlog.Logger
	baseURL           string
	emailVerifyExpiry time.Duration
	logger            *zap.Logger
}

// NewHandler creates a new profile Handler.
func NewHandler(
	db *mongo.Database,
	sessionsStore *sessions.Store,
	m *mailer.Mailer,
	notifier mailer.Notifier,
	auditLogger *auditlog.Logger,
	baseURL string,
	emailVerifyExpiry time.Duration,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		accountStore:      accountstore.New(db),
		emailVerifyStore:  emailverify.New(db, emailVerifyExpiry),
		sessionsStore:     sessionsStore,
		mailer:            m,
		notifier:          notifier,
		auditLogger:       auditLogger,
		baseURL:           baseURL,
		emailVerifyExpiry: emailVerifyExpiry,
		logger:            logger,
	}
}

// MountRoutes adds the authenticated account endpoints to the /auth router:
//   - GET  /me
//   - PUT  /profile
//   - GET  /sessions
//   - POST /sessions/{id}/revoke
//   - POST /sessions/revoke-all
//   - POST /change-password
func MountRoutes(r chi.Router, h *Handler, authn *auth.Authenticator) {
	r.Group(func(pr chi.Router) {
		pr.Use(authn.Require)
		pr.Get("/me", h.showMe)
		pr.Put("/profile", h.handleUpdateProfile)
		pr.Get("/sessions", h.listSessions)
		pr.Post("/sessions/{id}/revoke", h.revokeSession)
		pr.Post("/sessions/revoke-all", h.revokeAllSessions)
		pr.Post("/change-password", h.handleChangePassword)
	})
}

// MeResponse describes the caller.
type MeResponse struct {
	Account   models.AccountSummary `json:"account"`
	SessionID string                `json:"sessionId"`
}

// showMe returns the authenticated account.
func (h *Handler) showMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}
	jsonutil.OK(w, MeResponse{Account: p.Account.Summary(), SessionID: p.SessionID})
}

type profileInput struct {
	Name  string `json:"name" validate:"max=100" label:"Name"`
	Email string `json:"email" validate:"max=254" label:"Email"`
}

// ProfileResponse is returned after a profile update.
type ProfileResponse struct {
	Account                   models.AccountSummary `json:"account"`
	RequiresEmailVerification bool                  `json:"requiresEmailVerification"`
}

// handleUpdateProfile changes the display name and/or email. A new email is
// unverified until its link is opened, and logins wait for that.
func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}

	var in profileInput
	if err := jsonutil.Decode(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	in.Name = htmlsanitize.PlainText(in.Name)
	in.Email = normalize.Email(in.Email)

	fields := inputval.Validate(in).Fields()
	if _, ok := fields["email"]; !ok && in.Email != "" && !inputval.IsValidEmail(in.Email) {
		fields["email"] = "A valid email address is required."
	}
	if in.Name == "" && in.Email == "" {
		fields["name"] = "Provide a name or an email to update."
	}
	if len(fields) > 0 {
		jsonutil.ValidationError(w, fields)
		return
	}

	ctx := r.Context()
	origin := network.OriginOf(r)
	accountID := p.AccountID()

	acct, emailChanged, err := h.accountStore.UpdateProfile(ctx, accountID, accountstore.ProfileUpdate{
		Name:  in.Name,
		Email: in.Email,
	})
	switch {
	case errors.Is(err, accountstore.ErrDuplicateEmail):
		jsonutil.Conflict(w, CodeEmailTaken, "an account with this email already exists")
		return
	case err != nil:
		h.logger.Error("failed to update profile", zap.String("account_id", accountID.Hex()), zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	h.auditLogger.Account(ctx, origin, audit.EventProfileUpdated, &accountID, "", nil)
	if emailChanged {
		h.auditLogger.Account(ctx, origin, audit.EventEmailChanged, &accountID, "", map[string]string{
			"previous_email": p.Account.Email,
		})
		if err := h.sendVerification(ctx, acct); err != nil {
			h.logger.Warn("failed to send verification for changed email",
				zap.String("account_id", accountID.Hex()),
				zap.Error(err))
		}
	}

	jsonutil.OK(w, ProfileResponse{
		Account:                   acct.Summary(),
		RequiresEmailVerification: !acct.EmailVerified(),
	})
}

// sendVerification replaces any outstanding links with one for the current address.
func (h *Handler) sendVerification(ctx context.Context, acct *models.Account) error {
	if err := h.emailVerifyStore.DeleteForAccount(ctx, acct.ID); err != nil {
		return err
	}
	v, err := h.emailVerifyStore.Create(ctx, acct.Email, acct.ID)
	if err != nil {
		return err
	}
	link := h.baseURL + "/verify-email?token=" + url.QueryEscape(v.Token)
	return h.notifier.Notify(ctx, h.mailer.VerificationEmail(acct.Email, link, h.emailVerifyExpiry))
}

// SessionRow is one live session in the listing.
type SessionRow struct {
	SessionID string    `json:"sessionId"`
	Device    string    `json:"device"`
	IPAddress string    `json:"ipAddress"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

// listSessions returns the caller's live sessions, newest first.
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}

	list, err := h.sessionsStore.ListByAccount(r.Context(), p.AccountID())
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	rows := make([]SessionRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, SessionRow{
			SessionID: s.SessionID,
			Device:    parseDevice(s.UserAgent),
			IPAddress: s.IPAddress,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.SessionID == p.SessionID,
		})
	}
	jsonutil.OK(w, map[string]any{"sessions": rows})
}

type revokeInput struct {
	SessionID string `json:"id" validate:"required,sessionid" label:"Session ID"`
}

// revokeSession signs out one of the caller's other sessions.
func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}

	in := revokeInput{SessionID: strings.TrimSpace(chi.URLParam(r, "id"))}
	if res := inputval.Validate(in); res.HasErrors() {
		jsonutil.ValidationError(w, res.Fields())
		return
	}
	if in.SessionID == p.SessionID {
		jsonutil.Error(w, http.StatusBadRequest, CodeUseLogout, "use logout to end the current session")
		return
	}

	ctx := r.Context()
	accountID := p.AccountID()
	removed, err := h.sessionsStore.DeleteForAccount(ctx, accountID, in.SessionID)
	if err != nil {
		h.logger.Error("failed to revoke session", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}
	// Another account's session id reads as missing.
	if !removed {
		jsonutil.Error(w, http.StatusNotFound, CodeSessionMissing, "session not found")
		return
	}

	h.auditLogger.Account(ctx, network.OriginOf(r), audit.EventSessionRevoked, &accountID, "", map[string]string{
		"session_id": in.SessionID,
	})
	jsonutil.NoContent(w)
}

// revokeAllSessions signs out every session except the current one.
func (h *Handler) revokeAllSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}

	ctx := r.Context()
	accountID := p.AccountID()
	revoked, err := h.sessionsStore.DeleteOthers(ctx, accountID, p.Token)
	if err != nil {
		h.logger.Error("failed to revoke sessions", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	h.auditLogger.Account(ctx, network.OriginOf(r), audit.EventSessionRevoked, &accountID, "", map[string]string{
		"scope": "all_others",
	})
	jsonutil.OK(w, map[string]any{"revokedSessions": revoked})
}

type changePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=72" label:"Current password"`
	NewPassword     string `json:"newPassword" validate:"required" label:"New password"`
}

// handleChangePassword replaces the password and signs out every other session.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}

	var in changePasswordInput
	if err := jsonutil.Decode(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	res := inputval.Validate(in)
	fields := res.Fields()
	if _, ok := fields["newPassword"]; !ok {
		if err := authutil.ValidatePassword(in.NewPassword); err != nil {
			fields["newPassword"] = err.Error()
		}
	}
	if len(fields) > 0 {
		jsonutil.ValidationError(w, fields)
		return
	}

	ctx := r.Context()
	origin := network.OriginOf(r)
	acct := p.Account

	if !authutil.CheckPassword(in.CurrentPassword, acct.PasswordHash) {
		h.auditLogger.Account(ctx, origin, audit.EventPasswordChanged, &acct.ID, "wrong_current_password", nil)
		jsonutil.Unauthorized(w, CodeWrongPassword, "current password is incorrect")
		return
	}
	if in.NewPassword == in.CurrentPassword {
		jsonutil.ValidationError(w, map[string]string{"newPassword": "new password must differ from the current one"})
		return
	}

	hash, err := authutil.HashPassword(in.NewPassword)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}
	if err := h.accountStore.UpdatePassword(ctx, acct.ID, hash); err != nil {
		h.logger.Error("failed to update password", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	revoked, err := h.sessionsStore.DeleteOthers(ctx, acct.ID, p.Token)
	if err != nil {
		h.logger.Error("failed to revoke other sessions", zap.Error(err))
	}
	h.auditLogger.Account(ctx, origin, audit.EventPasswordChanged, &acct.ID, "", nil)
	h.notify(ctx, h.mailer.PasswordChangedEmail(acct.Email))

	jsonutil.OK(w, map[string]any{"changed": true, "revokedSessions": revoked})
}

func (h *Handler) notify(ctx context.Context, m mailer.Message) {
	if err := h.notifier.Notify(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("failed to send notification", zap.String("kind", m.Kind), zap.Error(err))
	}
}

// deviceRules map user-agent fragments to a device label. Order matters:
// mobile platforms first, then desktop OS with browser refinements.
var deviceRules = []struct {
	match    []string
	label    string
	browsers bool
}{
	{[]string{"iphone"}, "iPhone", false},
	{[]string{"ipad"}, "iPad", false},
	{[]string{"android", "mobile"}, "Android Phone", false},
	{[]string{"android"}, "Android Tablet", false},
	{[]string{"windows"}, "Windows", true},
	{[]string{"macintosh"}, "Mac", true},
	{[]string{"mac os"}, "Mac", true},
	{[]string{"linux"}, "Linux", true},
}

// parseDevice turns a user agent into a short label for the session list.
func parseDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, rule := range deviceRules {
		if !containsAll(ua, rule.match) {
			continue
		}
		if !rule.browsers {
			return rule.label
		}
		if b := browserOf(ua); b != "" {
			return rule.label + " (" + b + ")"
		}
		return rule.label
	}
	return "Unknown Device"
}

func browserOf(ua string) string {
	switch {
	case strings.Contains(ua, "edge"), strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	}
	return ""
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
