// internal/app/features/health/health.go
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// Handler provides health check endpoints.
type Handler struct {
	mongoClient *mongo.Client
	redisClient redis.UniversalClient // optional; backs the code attempt limiter
	logger      *zap.Logger
}

// NewHandler creates a new health check Handler. redisClient may be nil.
func NewHandler(mongoClient *mongo.Client, redisClient redis.UniversalClient, logger *zap.Logger) *Handler {
	return &Handler{
		mongoClient: mongoClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Response represents the health check response.
type Response struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

// MountRootEndpoints adds the health check endpoints directly on the root router:
//   - /health - full check
//   - /ready, /readyz - readiness check
//   - /livez - liveness check
func MountRootEndpoints(r chi.Router, h *Handler) {
	r.Get("/health", h.Check)
	r.Get("/ready", h.Ready)
	r.Get("/readyz", h.Ready)
	r.Get("/livez", h.Live)
}

// Check pings every backing service. MongoDB down is fatal; Redis down is
// reported as degraded because the attempt limiter fails open.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := Response{Status: "ok", Services: make(map[string]string)}
	status := http.StatusOK

	if err := h.pingMongo(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Services["mongodb"] = "unavailable"
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check: mongodb ping failed", zap.Error(err))
	} else {
		resp.Services["mongodb"] = "ok"
	}

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			resp.Services["redis"] = "unavailable"
			h.logger.Warn("health check: redis ping failed", zap.Error(err))
		} else {
			resp.Services["redis"] = "ok"
		}
	}

	jsonutil.JSON(w, status, resp)
}

// Ready reports whether the service can serve logins.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.pingMongo(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		jsonutil.JSON(w, http.StatusServiceUnavailable, Response{Status: "not ready"})
		return
	}
	jsonutil.OK(w, Response{Status: "ready"})
}

// Live reports that the process is running.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	jsonutil.OK(w, Response{Status: "alive"})
}

func (h *Handler) pingMongo(ctx context.Context) error {
	return h.mongoClient.Ping(ctx, readpref.Primary())
}
