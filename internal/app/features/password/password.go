// internal/app/features/password/password.go
package password

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/store/passwordreset"
	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/authutil"
	"github.com/dalemusser/stratamind/internal/app/system/inputval"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/app/system/mailer"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/dalemusser/stratamind/internal/app/system/normalize"
	"github.com/dalemusser/stratamind/internal/app/system/txn"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Error codes returned by the reset endpoints.
const (
	CodeTokenInvalid = "token_invalid"
	CodeTokenExpired = "token_expired"
)

// Handler provides the forgot-password and reset-password endpoints.
type Handler struct {
	db            *mongo.Database
	accountStore  *accountstore.Store
	resetStore    *passwordreset.Store
	sessionsStore *sessions.Store
	mailer        *mailer.Mailer
	notifier      mailer.Notifier
	auditLogger   *auditlog.Logger
	baseURL       string
	resetExpiry   time.Duration
	logger        *zap.Logger
}

// NewHandler creates a new password Handler.
func NewHandler(
	db *mongo.Database,
	sessionsStore *sessions.Store,
	m *mailer.Mailer,
	notifier mailer.Notifier,
	auditLogger *auditlog.Logger,
	baseURL string,
	resetExpiry time.Duration,
	logger *zap.Logger,
) *Handler {
	if resetExpiry <= 0 {
		resetExpiry = passwordreset.DefaultExpiry
	}
	return &Handler{
		db:            db,
		accountStore:  accountstore.New(db),
		resetStore:    passwordreset.New(db, resetExpiry),
		sessionsStore: sessionsStore,
		mailer:        m,
		notifier:      notifier,
		auditLogger:   auditLogger,
		baseURL:       baseURL,
		resetExpiry:   resetExpiry,
		logger:        logger,
	}
}

// MountRoutes adds the reset endpoints to the /auth router:
//   - POST /forgot-password
//   - POST /reset-password
func MountRoutes(r chi.Router, h *Handler) {
	r.Post("/forgot-password", h.handleForgot)
	r.Post("/reset-password", h.handleReset)
}

type forgotInput struct {
	Email string `json:"email" validate:"required,email,max=254" label:"Email"`
}

// handleForgot mails a reset link. The response is the same whether or not
// the address belongs to an account.
func (h *Handler) handleForgot(w http.ResponseWriter, r *http.Request) {
	var in forgotInput
	if err := jsonutil.Decode(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	in.Email = normalize.Email(in.Email)
	if res := inputval.Validate(in); res.HasErrors() {
		jsonutil.ValidationError(w, res.Fields())
		return
	}

	ctx := r.Context()
	ok := map[string]string{"message": "if the address belongs to an account, a reset link is on its way"}

	acct, err := h.accountStore.GetByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			h.logger.Error("account lookup failed", zap.Error(err))
		}
		jsonutil.OK(w, ok)
		return
	}

	reset, err := h.resetStore.Create(ctx, acct.ID)
	if err != nil {
		h.logger.Error("failed to create password reset", zap.Error(err))
		jsonutil.OK(w, ok)
		return
	}
	link := h.baseURL + "/reset-password?token=" + url.QueryEscape(reset.Token)
	if err := h.notifier.Notify(ctx, h.mailer.PasswordResetEmail(acct.Email, link, h.resetExpiry)); err != nil {
		h.logger.Error("failed to send password reset email",
			zap.String("account_id", acct.ID.Hex()),
			zap.Error(err))
	} else {
		h.auditLogger.Account(ctx, network.OriginOf(r), audit.EventPasswordResetSent, &acct.ID, "", nil)
	}
	jsonutil.OK(w, ok)
}

type resetInput struct {
	Token       string `json:"token" validate:"required,opaquetoken" label:"Token"`
	NewPassword string `json:"newPassword" validate:"required" label:"New password"`
}

// handleReset consumes a reset token, sets the new password, and revokes
// every session of the account.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var in resetInput
	if err := jsonutil.Decode(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	in.Token = normalize.Token(in.Token)

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

	reset, err := h.resetStore.Consume(ctx, in.Token)
	switch {
	case errors.Is(err, passwordreset.ErrNotFound):
		h.auditLogger.Account(ctx, origin, audit.EventPasswordReset, nil, "token_not_found", nil)
		jsonutil.Error(w, http.StatusNotFound, CodeTokenInvalid, "reset link is invalid or already used")
		return
	case errors.Is(err, passwordreset.ErrExpired):
		h.auditLogger.Account(ctx, origin, audit.EventPasswordReset, nil, "token_expired", nil)
		jsonutil.Gone(w, CodeTokenExpired, "reset link has expired; request a new one")
		return
	case err != nil:
		h.logger.Error("failed to consume reset token", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	hash, err := authutil.HashPassword(in.NewPassword)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	// The new password and the session purge land together.
	var revoked int64
	err = txn.Run(ctx, h.db, h.logger, func(ctx context.Context) error {
		if err := h.accountStore.UpdatePassword(ctx, reset.AccountID, hash); err != nil {
			return err
		}
		n, err := h.sessionsStore.DeleteByAccount(ctx, reset.AccountID)
		revoked = n
		return err
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			jsonutil.Error(w, http.StatusNotFound, CodeTokenInvalid, "reset link is invalid or already used")
			return
		}
		h.logger.Error("failed to apply password reset", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}
	h.auditLogger.Account(ctx, origin, audit.EventPasswordReset, &reset.AccountID, "", nil)

	if acct, err := h.accountStore.GetByID(ctx, reset.AccountID); err == nil {
		h.notify(ctx, h.mailer.PasswordChangedEmail(acct.Email))
	}

	jsonutil.OK(w, map[string]any{"reset": true, "revokedSessions": revoked})
}

func (h *Handler) notify(ctx context.Context, m mailer.Message) {
	if err := h.notifier.Notify(ctx, m); err != nil {
		h.logger.Warn("failed to send notification", zap.String("kind", m.Kind), zap.Error(err))
	}
}
