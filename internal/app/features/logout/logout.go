// internal/app/features/logout/logout.go
package logout

import (
	"net/http"

	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/auth"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler provides logout handlers.
type Handler struct {
	auditLogger   *auditlog.Logger
	sessionsStore *sessions.Store
	logger        *zap.Logger
}

// NewHandler creates a new logout Handler.
func NewHandler(
	auditLogger *auditlog.Logger,
	sessionsStore *sessions.Store,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		auditLogger:   auditLogger,
		sessionsStore: sessionsStore,
		logger:        logger,
	}
}

// MountRoutes adds POST /logout to the /auth router.
func MountRoutes(r chi.Router, h *Handler, authn *auth.Authenticator) {
	r.With(authn.Require).Post("/logout", h.handleLogout)
}

// handleLogout revokes the session the request was made with.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}

	if err := h.sessionsStore.Delete(r.Context(), p.Token); err != nil {
		h.logger.Error("failed to delete session", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}
	h.auditLogger.Logout(r.Context(), network.OriginOf(r), p.AccountID(), p.SessionID)

	jsonutil.NoContent(w)
}
