package register

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/app/system/mailer"
	"github.com/dalemusser/stratamind/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// outbox records notifications instead of delivering them.
type outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (o *outbox) Notify(_ context.Context, m mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, m)
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

var tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.msgs) == 0 {
		t.Fatal("no notification sent")
	}
	m := tokenRe.FindStringSubmatch(o.msgs[len(o.msgs)-1].Body)
	if m == nil {
		t.Fatalf("no token in body %q", o.msgs[len(o.msgs)-1].Body)
	}
	return m[1]
}

func newRouter(t *testing.T, db *mongo.Database, box *outbox, expiry time.Duration) http.Handler {
	t.Helper()
	m := mailer.New(mailer.Config{AppName: "Test"}, zap.NewNop())
	h := NewHandler(db, m, box, nil, "https://app.test", expiry, zap.NewNop())
	r := chi.NewRouter()
	r.Route("/auth", func(ar chi.Router) { MountRoutes(ar, h) })
	return r
}

func post(t *testing.T, router http.Handler, path string, body any) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	router.ServeHTTP(rec, testutil.NewJSONRequest(t, http.MethodPost, path, body))
	return rec
}

func register(t *testing.T, router http.Handler, name, email, password string) *testutil.ResponseRecorder {
	t.Helper()
	return post(t, router, "/auth/register", map[string]string{"name": name, "email": email, "password": password})
}

func TestRegister_Success(t *testing.T) {
	db := testutil.SetupTestDB(t)
	box := &outbox{}
	router := newRouter(t, db, box, time.Hour)

	rec := register(t, router, "  <b>Alice</b> Smith ", "Alice@Example.com", "a strong passphrase")
	rec.AssertStatus(t, http.StatusCreated)

	var resp RegisterResponse
	rec.DecodeJSON(t, &resp)
	if !resp.RequiresEmailVerification {
		t.Error("RequiresEmailVerification = false")
	}
	if resp.Account.Name != "Alice Smith" {
		t.Errorf("Name = %q, want sanitized %q", resp.Account.Name, "Alice Smith")
	}
	if resp.Account.Email != "alice@example.com" {
		t.Errorf("Email = %q", resp.Account.Email)
	}
	if resp.Account.EmailVerifiedAt != nil || resp.Account.SecondFactorEnabled {
		t.Errorf("new account state = %+v", resp.Account)
	}
	rec.AssertContains(t, `"requiresEmailVerification":true`)
	if regexp.MustCompile(`password|secret`).MatchString(rec.Body.String()) {
		t.Errorf("response leaks credentials: %s", rec.Body.String())
	}

	if box.count() != 1 || box.msgs[0].Kind != mailer.KindEmailVerification || box.msgs[0].To != "alice@example.com" {
		t.Fatalf("notifications = %+v", box.msgs)
	}
	if box.lastToken(t) == "" {
		t.Error("empty verification token")
	}
}

func TestRegister_Validation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := newRouter(t, db, &outbox{}, time.Hour)

	tests := []struct {
		name  string
		body  map[string]string
		field string
	}{
		{"missing name", map[string]string{"email": "a@example.com", "password": "a strong passphrase"}, "name"},
		{"markup-only name", map[string]string{"name": "<script></script>", "email": "a@example.com", "password": "a strong passphrase"}, "name"},
		{"bad email", map[string]string{"name": "A", "email": "nope", "password": "a strong passphrase"}, "email"},
		{"short password", map[string]string{"name": "A", "email": "a@example.com", "password": "abc"}, "password"},
		{"common password", map[string]string{"name": "A", "email": "a@example.com", "password": "password123"}, "password"},
		{"missing password", map[string]string{"name": "A", "email": "a@example.com"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := register(t, router, tt.body["name"], tt.body["email"], tt.body["password"])
			rec.AssertStatus(t, http.StatusBadRequest)
			rec.AssertErrorCode(t, jsonutil.CodeValidation)

			var body jsonutil.ErrorBody
			rec.DecodeJSON(t, &body)
			if body.Fields[tt.field] == "" {
				t.Errorf("fields = %v, want %q entry", body.Fields, tt.field)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := newRouter(t, db, &outbox{}, time.Hour)

	register(t, router, "Alice", "alice@example.com", "a strong passphrase").AssertStatus(t, http.StatusCreated)

	rec := register(t, router, "Other Alice", "ALICE@example.com", "another passphrase")
	rec.AssertStatus(t, http.StatusConflict)
	rec.AssertErrorCode(t, CodeEmailTaken)
}

func TestRegister_NotifierFailureStillCreates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := newRouter(t, db, &outbox{err: errors.New("smtp down")}, time.Hour)

	register(t, router, "Alice", "alice@example.com", "a strong passphrase").AssertStatus(t, http.StatusCreated)
}

func TestVerifyEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	box := &outbox{}
	router := newRouter(t, db, box, time.Hour)

	register(t, router, "Alice", "alice@example.com", "a strong passphrase").AssertStatus(t, http.StatusCreated)
	token := box.lastToken(t)

	rec := post(t, router, "/auth/verify-email", map[string]string{"token": token})
	rec.AssertStatus(t, http.StatusOK)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	acct, err := accountstore.New(db).GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if !acct.EmailVerified() {
		t.Error("email not verified")
	}

	rec = post(t, router, "/auth/verify-email", map[string]string{"token": token})
	rec.AssertStatus(t, http.StatusNotFound)
	rec.AssertErrorCode(t, CodeTokenInvalid)

	rec = post(t, router, "/auth/verify-email", map[string]string{"token": "short"})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertErrorCode(t, jsonutil.CodeValidation)
}

func TestVerifyEmail_Expired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	box := &outbox{}
	// Tokens are born expired.
	router := newRouter(t, db, box, -time.Minute)

	register(t, router, "Alice", "alice@example.com", "a strong passphrase").AssertStatus(t, http.StatusCreated)

	rec := post(t, router, "/auth/verify-email", map[string]string{"token": box.lastToken(t)})
	rec.AssertStatus(t, http.StatusGone)
	rec.AssertErrorCode(t, CodeTokenExpired)
}

func TestResendVerification(t *testing.T) {
	db := testutil.SetupTestDB(t)
	box := &outbox{}
	router := newRouter(t, db, box, time.Hour)

	register(t, router, "Alice", "alice@example.com", "a strong passphrase").AssertStatus(t, http.StatusCreated)
	first := box.lastToken(t)

	t.Run("unknown email looks the same", func(t *testing.T) {
		rec := post(t, router, "/auth/resend-verification", map[string]string{"email": "nobody@example.com"})
		rec.AssertStatus(t, http.StatusOK)
		if box.count() != 1 {
			t.Errorf("notifications = %d, want 1", box.count())
		}
	})

	t.Run("unverified account gets a new link", func(t *testing.T) {
		rec := post(t, router, "/auth/resend-verification", map[string]string{"email": "Alice@example.com"})
		rec.AssertStatus(t, http.StatusOK)
		if box.count() != 2 {
			t.Fatalf("notifications = %d, want 2", box.count())
		}
		second := box.lastToken(t)
		if second == first {
			t.Fatal("resend reused the old token")
		}
		post(t, router, "/auth/verify-email", map[string]string{"token": first}).AssertStatus(t, http.StatusNotFound)
		post(t, router, "/auth/verify-email", map[string]string{"token": second}).AssertStatus(t, http.StatusOK)
	})

	t.Run("verified account gets nothing", func(t *testing.T) {
		rec := post(t, router, "/auth/resend-verification", map[string]string{"email": "alice@example.com"})
		rec.AssertStatus(t, http.StatusOK)
		if box.count() != 2 {
			t.Errorf("notifications = %d, want 2", box.count())
		}
	})
}
