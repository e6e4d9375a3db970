// internal/app/features/login/login.go
package login

import (
	"errors"
	"net/http"
	"time"

	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/store/ratelimit"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/inputval"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/dalemusser/stratamind/internal/app/system/normalize"
	"github.com/dalemusser/stratamind/internal/app/system/twofactor"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Error codes returned by the login endpoints.
const (
	CodeInvalidCredentials       = "invalid_credentials"
	CodeEmailUnverified          = "email_unverified"
	CodeLockedOut                = "locked_out"
	CodeChallengeNotFound        = "challenge_not_found"
	CodeChallengeExpired         = "challenge_expired"
	CodeChallengeAlreadyVerified = "challenge_already_verified"
	CodeInvalidCode              = "invalid_code"
	CodeEnrollmentSuperseded     = "enrollment_superseded"
	CodeRestartLogin             = "restart_login"
)

// Handler provides the login handshake endpoints.
type Handler struct {
	handshake      *twofactor.Handshake
	rateLimitStore *ratelimit.Store // nil if lockout disabled
	auditLogger    *auditlog.Logger
	logger         *zap.Logger
}

// NewHandler creates a new login Handler.
// rateLimitStore can be nil to disable password lockout.
func NewHandler(
	handshake *twofactor.Handshake,
	rateLimitStore *ratelimit.Store,
	auditLogger *auditlog.Logger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		handshake:      handshake,
		rateLimitStore: rateLimitStore,
		auditLogger:    auditLogger,
		logger:         logger,
	}
}

// MountRoutes adds the handshake endpoints to the /auth router:
//   - POST /login
//   - POST /verify-second-factor
//   - GET  /second-factor-status?challengeToken=...
func MountRoutes(r chi.Router, h *Handler) {
	r.Post("/login", h.handleLogin)
	r.Post("/verify-second-factor", h.handleVerifySecondFactor)
	r.Get("/second-factor-status", h.handleSecondFactorStatus)
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email,max=254" label:"Email"`
	Password string `json:"password" validate:"required,max=72" label:"Password"`
}

// LoginResponse is returned after a correct password. It never carries a
// session; the client must redeem the challenge.
type LoginResponse struct {
	RequiresSecondFactor bool   `json:"requiresSecondFactor"`
	ChallengeToken       string `json:"challengeToken"`
	QRImage              string `json:"qrImage"`
	ManualEntryKey       string `json:"manualEntryKey,omitempty"`
	IsFirstTimeSetup     bool   `json:"isFirstTimeSetup"`
	ExpiresInSeconds     int    `json:"expiresInSeconds"`
}

// handleLogin checks the password and issues a second-factor challenge.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginInput
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
	origin := network.OriginOf(r)

	if h.rateLimitStore != nil {
		if allowed, _, lockedUntil := h.rateLimitStore.CheckAllowed(ctx, in.Email); !allowed {
			h.auditLogger.Auth(ctx, origin, audit.EventLoginLockedOut, nil, "locked_out", map[string]string{"email": in.Email})
			jsonutil.TooManyRequests(w, "too many failed login attempts; try again later", retryAfter(lockedUntil))
			return
		}
	}

	issued, err := h.handshake.Login(ctx, in.Email, in.Password, origin)
	if err != nil {
		if errors.Is(err, twofactor.ErrInvalidCredentials) && h.rateLimitStore != nil {
			if locked, until := h.rateLimitStore.RecordFailure(ctx, in.Email); locked {
				h.logger.Info("login locked out",
					zap.String("email", in.Email),
					zap.Timep("locked_until", until))
			}
		}
		h.writeError(w, r, err)
		return
	}

	if h.rateLimitStore != nil {
		if err := h.rateLimitStore.ClearOnSuccess(ctx, in.Email); err != nil {
			h.logger.Warn("failed to clear login attempts", zap.Error(err))
		}
	}

	jsonutil.OK(w, LoginResponse{
		RequiresSecondFactor: true,
		ChallengeToken:       issued.ChallengeToken,
		QRImage:              issued.QRImage,
		ManualEntryKey:       issued.ManualEntryKey,
		IsFirstTimeSetup:     issued.IsFirstTimeSetup,
		ExpiresInSeconds:     issued.ExpiresInSeconds,
	})
}

type verifyInput struct {
	ChallengeToken string `json:"challengeToken" validate:"required,opaquetoken" label:"Challenge token"`
	Code           string `json:"code" validate:"required,otpcode" label:"Code"`
}

// VerifyResponse carries the session minted by a successful verification.
type VerifyResponse struct {
	BearerToken string                `json:"bearerToken"`
	TokenType   string                `json:"tokenType"`
	ExpiresAt   time.Time             `json:"expiresAt"`
	Account     models.AccountSummary `json:"account"`
}

// handleVerifySecondFactor redeems a challenge with an authenticator code.
func (h *Handler) handleVerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var in verifyInput
	if err := jsonutil.Decode(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	in.ChallengeToken = normalize.Token(in.ChallengeToken)
	in.Code = normalize.Code(in.Code)
	if res := inputval.Validate(in); res.HasErrors() {
		jsonutil.ValidationError(w, res.Fields())
		return
	}

	res, err := h.handshake.Verify(r.Context(), in.ChallengeToken, in.Code, network.OriginOf(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	jsonutil.OK(w, VerifyResponse{
		BearerToken: res.BearerToken,
		TokenType:   "Bearer",
		ExpiresAt:   res.ExpiresAt,
		Account:     res.Account,
	})
}

type statusInput struct {
	ChallengeToken string `json:"challengeToken" validate:"required,opaquetoken" label:"Challenge token"`
}

// StatusResponse reports whether a challenge has been redeemed.
type StatusResponse struct {
	Verified bool `json:"verified"`
}

// handleSecondFactorStatus lets a client poll a challenge. Polling never
// changes the challenge.
func (h *Handler) handleSecondFactorStatus(w http.ResponseWriter, r *http.Request) {
	in := statusInput{ChallengeToken: normalize.Token(r.URL.Query().Get("challengeToken"))}
	if res := inputval.Validate(in); res.HasErrors() {
		jsonutil.ValidationError(w, res.Fields())
		return
	}

	verified, err := h.handshake.Status(r.Context(), in.ChallengeToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jsonutil.OK(w, StatusResponse{Verified: verified})
}

// writeError maps handshake errors to responses. Anything unexpected is
// logged and reported as a 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, twofactor.ErrInvalidCredentials):
		jsonutil.Unauthorized(w, CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, twofactor.ErrEmailUnverified):
		jsonutil.Forbidden(w, CodeEmailUnverified, "verify your email address before logging in")
	case errors.Is(err, twofactor.ErrChallengeNotFound):
		jsonutil.Error(w, http.StatusNotFound, CodeChallengeNotFound, "challenge not found")
	case errors.Is(err, twofactor.ErrChallengeExpired):
		jsonutil.Gone(w, CodeChallengeExpired, "challenge expired; log in again")
	case errors.Is(err, twofactor.ErrChallengeAlreadyVerified):
		jsonutil.Error(w, http.StatusBadRequest, CodeChallengeAlreadyVerified, "challenge already used")
	case errors.Is(err, twofactor.ErrInvalidCode):
		jsonutil.Unauthorized(w, CodeInvalidCode, "invalid code")
	case errors.Is(err, twofactor.ErrTooManyAttempts):
		jsonutil.TooManyRequests(w, "too many invalid codes; log in again", 0)
	case errors.Is(err, twofactor.ErrEnrollmentSuperseded):
		jsonutil.Conflict(w, CodeEnrollmentSuperseded, "another device completed setup first; log in again")
	case errors.Is(err, twofactor.ErrRestartLogin):
		h.logger.Error("login handshake failed", zap.Error(err), zap.String("path", r.URL.Path))
		jsonutil.Error(w, http.StatusServiceUnavailable, CodeRestartLogin, "could not complete sign-in; log in again")
	default:
		h.logger.Error("login handshake failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		jsonutil.InternalError(w)
	}
}

// retryAfter converts a lockout deadline to whole seconds, rounding up.
func retryAfter(until *time.Time) int {
	if until == nil {
		return 0
	}
	d := time.Until(*until)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
