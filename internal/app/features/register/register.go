// internal/app/features/register/register.go
package register

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/store/emailverify"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
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

// Error codes returned by the registration endpoints.
const (
	CodeEmailTaken   = "email_taken"
	CodeTokenInvalid = "token_invalid"
	CodeTokenExpired = "token_expired"
)

// Handler provides account registration and email verification.
type Handler struct {
	accountStore      *accountstore.Store
	emailVerifyStore  *emailverify.Store
	mailer            *mailer.Mailer
	notifier          mailer.Notifier
	auditLogger       *auditlog.Logger
	baseURL           string
	emailVerifyExpiry time.Duration
	logger            *zap.Logger
}

// NewHandler creates a new register Handler. Notifications are built by m and
// delivered through notifier; pass m for both to log them.
func NewHandler(
	db *mongo.Database,
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
		mailer:            m,
		notifier:          notifier,
		auditLogger:       auditLogger,
		baseURL:           baseURL,
		emailVerifyExpiry: emailVerifyExpiry,
		logger:            logger,
	}
}

// MountRoutes adds the registration endpoints to the /auth router:
//   - POST /register
//   - POST /verify-email
//   - POST /resend-verification
func MountRoutes(r chi.Router, h *Handler) {
	r.Post("/register", h.handleRegister)
	r.Post("/verify-email", h.handleVerifyEmail)
	r.Post("/resend-verification", h.handleResendVerification)
}

type registerInput struct {
	Name     string `json:"name" validate:"required,max=100" label:"Name"`
	Email    string `json:"email" validate:"required,email,max=254" label:"Email"`
	Password string `json:"password" validate:"required" label:"Password"`
}

// RegisterResponse is returned for a new account.
type RegisterResponse struct {
	Account                   models.AccountSummary `json:"account"`
	RequiresEmailVerification bool                  `json:"requiresEmailVerification"`
}

// handleRegister creates an account with an unverified email address and
// sends the verification link.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerInput
	if err := jsonutil.Decode(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	in.Name = htmlsanitize.PlainText(in.Name)
	in.Email = normalize.Email(in.Email)

	res := inputval.Validate(in)
	fields := res.Fields()
	if _, ok := fields["password"]; !ok {
		if err := authutil.ValidatePassword(in.Password); err != nil {
			fields["password"] = err.Error()
		}
	}
	if len(fields) > 0 {
		jsonutil.ValidationError(w, fields)
		return
	}

	hash, err := authutil.HashPassword(in.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	ctx := r.Context()
	origin := network.OriginOf(r)

	acct, err := h.accountStore.Create(ctx, models.Account{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, accountstore.ErrDuplicateEmail) {
			jsonutil.Conflict(w, CodeEmailTaken, "an account with this email already exists")
			return
		}
		h.logger.Error("failed to create account", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}
	h.auditLogger.Account(ctx, origin, audit.EventAccountRegistered, &acct.ID, "", nil)

	// The account exists either way; a failed send is recovered with resend-verification.
	if err := h.sendVerification(ctx, &acct); err != nil {
		h.logger.Error("failed to send verification email",
			zap.String("account_id", acct.ID.Hex()),
			zap.Error(err))
	}

	jsonutil.Created(w, RegisterResponse{
		Account:                   acct.Summary(),
		RequiresEmailVerification: true,
	})
}

type tokenInput struct {
	Token string `json:"token" validate:"required,opaquetoken" label:"Token"`
}

// handleVerifyEmail consumes a verification token and marks the address verified.
func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in tokenInput
	if err := jsonutil.Decode(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	in.Token = normalize.Token(in.Token)
	if res := inputval.Validate(in); res.HasErrors() {
		jsonutil.ValidationError(w, res.Fields())
		return
	}

	ctx := r.Context()
	origin := network.OriginOf(r)

	v, err := h.emailVerifyStore.Consume(ctx, in.Token)
	switch {
	case errors.Is(err, emailverify.ErrNotFound):
		h.auditLogger.Account(ctx, origin, audit.EventVerificationFailed, nil, "token_not_found", nil)
		jsonutil.Error(w, http.StatusNotFound, CodeTokenInvalid, "verification link is invalid or already used")
		return
	case errors.Is(err, emailverify.ErrExpired):
		h.auditLogger.Account(ctx, origin, audit.EventVerificationFailed, nil, "token_expired", nil)
		jsonutil.Gone(w, CodeTokenExpired, "verification link has expired; request a new one")
		return
	case err != nil:
		h.logger.Error("failed to consume verification token", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}

	if err := h.accountStore.MarkEmailVerified(ctx, v.AccountID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			jsonutil.Error(w, http.StatusNotFound, CodeTokenInvalid, "verification link is invalid or already used")
			return
		}
		h.logger.Error("failed to mark email verified", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}
	if err := h.emailVerifyStore.DeleteForAccount(ctx, v.AccountID); err != nil {
		h.logger.Warn("failed to clear outstanding verification tokens", zap.Error(err))
	}
	h.auditLogger.Account(ctx, origin, audit.EventEmailVerified, &v.AccountID, "", nil)

	jsonutil.OK(w, map[string]any{"verified": true})
}

type resendInput struct {
	Email string `json:"email" validate:"required,email,max=254" label:"Email"`
}

// handleResendVerification issues a fresh link. The response never reveals
// whether the address belongs to an account.
func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var in resendInput
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
	ok := map[string]string{"message": "if the address belongs to an unverified account, a new link is on its way"}

	acct, err := h.accountStore.GetByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			h.logger.Error("account lookup failed", zap.Error(err))
		}
		jsonutil.OK(w, ok)
		return
	}
	if acct.EmailVerified() {
		jsonutil.OK(w, ok)
		return
	}

	if err := h.emailVerifyStore.DeleteForAccount(ctx, acct.ID); err != nil {
		h.logger.Warn("failed to clear previous verification tokens", zap.Error(err))
	}
	if err := h.sendVerification(ctx, acct); err != nil {
		h.logger.Error("failed to resend verification email",
			zap.String("account_id", acct.ID.Hex()),
			zap.Error(err))
	} else {
		h.auditLogger.Account(ctx, network.OriginOf(r), audit.EventVerificationResent, &acct.ID, "", nil)
	}
	jsonutil.OK(w, ok)
}

func (h *Handler) sendVerification(ctx context.Context, acct *models.Account) error {
	v, err := h.emailVerifyStore.Create(ctx, acct.Email, acct.ID)
	if err != nil {
		return err
	}
	link := h.baseURL + "/verify-email?token=" + url.QueryEscape(v.Token)
	return h.notifier.Notify(ctx, h.mailer.VerificationEmail(acct.Email, link, h.emailVerifyExpiry))
}
