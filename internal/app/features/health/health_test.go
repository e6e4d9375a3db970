package health

import (
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dalemusser/stratamind/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func get(t *testing.T, h http.Handler, path string) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, testutil.NewJSONRequest(t, http.MethodGet, path, nil))
	return rec
}

func TestCheck(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mr, rc := newRedis(t)

	tests := []struct {
		name      string
		redis     redis.UniversalClient
		redisDown bool
		status    int
		want      Response
	}{
		{"mongo only", nil, false, http.StatusOK, Response{Status: "ok", Services: map[string]string{"mongodb": "ok"}}},
		{"mongo and redis", rc, false, http.StatusOK, Response{Status: "ok", Services: map[string]string{"mongodb": "ok", "redis": "ok"}}},
		{"redis down", rc, true, http.StatusOK, Response{Status: "degraded", Services: map[string]string{"mongodb": "ok", "redis": "unavailable"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.redisDown {
				mr.Close()
			}
			r := chi.NewRouter()
			MountRootEndpoints(r, NewHandler(db.Client(), tt.redis, zap.NewNop()))

			rec := get(t, r, "/health")
			rec.AssertStatus(t, tt.status)

			var got Response
			rec.DecodeJSON(t, &got)
			if got.Status != tt.want.Status {
				t.Errorf("Status = %q, want %q", got.Status, tt.want.Status)
			}
			for svc, want := range tt.want.Services {
				if got.Services[svc] != want {
					t.Errorf("Services[%s] = %q, want %q", svc, got.Services[svc], want)
				}
			}
			if len(got.Services) != len(tt.want.Services) {
				t.Errorf("Services = %v", got.Services)
			}
		})
	}
}

func TestReadyAndLive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := chi.NewRouter()
	MountRootEndpoints(r, NewHandler(db.Client(), nil, zap.NewNop()))

	tests := []struct {
		path string
		body string
	}{
		{"/ready", `"status":"ready"`},
		{"/readyz", `"status":"ready"`},
		{"/livez", `"status":"alive"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, r, tt.path)
			rec.AssertStatus(t, http.StatusOK)
			rec.AssertContains(t, tt.body)
		})
	}
}

func TestLive_NoDependencies(t *testing.T) {
	h := NewHandler(nil, nil, zap.NewNop())
	rec := testutil.NewRecorder()

	h.Live(rec, testutil.NewJSONRequest(t, http.MethodGet, "/livez", nil))

	rec.AssertStatus(t, http.StatusOK)
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
}
