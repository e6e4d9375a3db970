// internal/app/features/auditlog/auditlog.go
package auditlog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/system/auth"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const pageSize = 50

// Handler serves the signed-in account's own security activity.
type Handler struct {
	auditStore *audit.Store
	logger     *zap.Logger
}

// NewHandler creates a new audit log Handler.
func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		auditStore: audit.New(db),
		logger:     logger,
	}
}

// MountRoutes mounts GET /activity behind bearer authentication.
func MountRoutes(r chi.Router, h *Handler, authn *auth.Authenticator) {
	r.With(authn.Require).Get("/activity", h.list)
}

// EventRow is one audit event as returned to the account owner.
type EventRow struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Category      string            `json:"category"`
	EventType     string            `json:"eventType"`
	IPAddress     string            `json:"ipAddress"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failureReason,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// ActivityResponse is a page of audit events, newest first.
type ActivityResponse struct {
	Events []EventRow `json:"events"`
	Page   int        `json:"page"`
	Total  int64      `json:"total"`
}

// list returns the caller's events. Query parameters: category, start_date
// and end_date (YYYY-MM-DD, interpreted in tz, default UTC), page.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentAccount(r)
	if !ok {
		jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
		return
	}

	q := r.URL.Query()
	category := strings.TrimSpace(q.Get("category"))
	switch category {
	case "", audit.CategoryAuth, audit.CategoryAccount:
	default:
		jsonutil.ValidationError(w, map[string]string{"category": "Category must be auth or account."})
		return
	}

	page := 1
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		page = n
	}

	loc := time.UTC
	if tz := strings.TrimSpace(q.Get("tz")); tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}

	accountID := p.AccountID()
	filter := audit.QueryFilter{
		AccountID: &accountID,
		Category:  category,
		Limit:     pageSize,
		Offset:    int64((page - 1) * pageSize),
	}
	if s := strings.TrimSpace(q.Get("start_date")); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			jsonutil.ValidationError(w, map[string]string{"start_date": "Start date must be YYYY-MM-DD."})
			return
		}
		filter.StartTime = &t
	}
	if s := strings.TrimSpace(q.Get("end_date")); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			jsonutil.ValidationError(w, map[string]string{"end_date": "End date must be YYYY-MM-DD."})
			return
		}
		endOfDay := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndTime = &endOfDay
	}

	events, err := h.auditStore.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", zap.Error(err))
		jsonutil.InternalError(w)
		return
	}
	total, err := h.auditStore.CountByFilter(r.Context(), filter)
	if err != nil {
		h.logger.Warn("failed to count audit events", zap.Error(err))
		total = int64(len(events))
	}

	rows := make([]EventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, EventRow{
			ID:            e.ID.Hex(),
			Timestamp:     e.CreatedAt,
			Category:      e.Category,
			EventType:     e.EventType,
			IPAddress:     e.IP,
			Success:       e.Success,
			FailureReason: e.FailureReason,
			Details:       e.Details,
		})
	}
	jsonutil.OK(w, ActivityResponse{Events: rows, Page: page, Total: total})
}
