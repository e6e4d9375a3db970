package profile

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/stratamind/internal/app/store/emailverify"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/app/system/mailer"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/dalemusser/stratamind/internal/app/system/twofactor"
	"github.com/dalemusser/stratamind/internal/testutil"
	"github.com/dalemusser/stratamind/internal/testutil/authflow"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type outbox struct {
	mu   sync.Mutex
	msgs []mailer.Message
}

func (o *outbox) Notify(_ context.Context, m mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return nil
}

func newRouter(t *testing.T) (http.Handler, *authflow.Stack, *outbox) {
	t.Helper()
	s := authflow.New(t)
	box := &outbox{}
	m := mailer.New(mailer.Config{AppName: "Test"}, zap.NewNop())
	h := NewHandler(s.DB, s.Sessions, m, box, nil, "https://app.test", time.Hour, zap.NewNop())
	r := chi.NewRouter()
	r.Route("/auth", func(ar chi.Router) { MountRoutes(ar, h, s.Authenticator) })
	return r, s, box
}

func do(t *testing.T, router http.Handler, method, path, bearerToken string, body any) *testutil.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	rec := testutil.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMe(t *testing.T) {
	router, s, _ := newRouter(t)
	s.CreateAccount(t, "me@example.com", true)
	signed := s.SignIn(t, "me@example.com")

	rec := do(t, router, http.MethodGet, "/auth/me", signed.BearerToken, nil)
	rec.AssertStatus(t, http.StatusOK)

	var resp MeResponse
	rec.DecodeJSON(t, &resp)
	if resp.Account.Email != "me@example.com" {
		t.Errorf("Email = %q", resp.Account.Email)
	}
	if !resp.Account.SecondFactorEnabled {
		t.Error("SecondFactorEnabled = false after a completed handshake")
	}
	if resp.SessionID != signed.SessionID {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, signed.SessionID)
	}
}

func TestMe_RequiresBearer(t *testing.T) {
	router, _, _ := newRouter(t)

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", "unauthenticated"},
		{"garbage", "not-a-token", "invalid_session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/auth/me", tt.token, nil)
			rec.AssertStatus(t, http.StatusUnauthorized)
			rec.AssertErrorCode(t, tt.code)
		})
	}
}

func TestSessions_ListMarksCurrent(t *testing.T) {
	router, s, _ := newRouter(t)
	s.CreateAccount(t, "list@example.com", true)
	first := s.SignIn(t, "list@example.com")
	second := s.SignIn(t, "list@example.com")

	rec := do(t, router, http.MethodGet, "/auth/sessions", second.BearerToken, nil)
	rec.AssertStatus(t, http.StatusOK)

	var resp struct {
		Sessions []SessionRow `json:"sessions"`
	}
	rec.DecodeJSON(t, &resp)
	if len(resp.Sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(resp.Sessions))
	}
	current := map[string]bool{}
	for _, row := range resp.Sessions {
		current[row.SessionID] = row.Current
		if row.Device != "Unknown Device" {
			t.Errorf("Device = %q", row.Device)
		}
	}
	if !current[second.SessionID] || current[first.SessionID] {
		t.Errorf("current flags = %v", current)
	}
}

func TestUpdateProfile_Name(t *testing.T) {
	router, s, box := newRouter(t)
	s.CreateAccount(t, "rename@example.com", true)
	signed := s.SignIn(t, "rename@example.com")

	rec := do(t, router, http.MethodPut, "/auth/profile", signed.BearerToken, map[string]string{
		"name": "  Renamed <b>Person</b> ",
	})
	rec.AssertStatus(t, http.StatusOK)

	var resp ProfileResponse
	rec.DecodeJSON(t, &resp)
	if resp.Account.Name != "Renamed Person" {
		t.Errorf("Name = %q, want markup stripped and trimmed", resp.Account.Name)
	}
	if resp.Account.Email != "rename@example.com" || resp.RequiresEmailVerification {
		t.Errorf("email state changed on a name-only update: %+v", resp)
	}
	if len(box.msgs) != 0 {
		t.Errorf("notifications = %+v, want none", box.msgs)
	}
}

func TestUpdateProfile_EmailChangeRequiresVerification(t *testing.T) {
	router, s, box := newRouter(t)
	acct := s.CreateAccount(t, "before@example.com", true)
	signed := s.SignIn(t, "before@example.com")

	ctx, cancel := testutil.TestContext()
	defer cancel()
	verifications := emailverify.New(s.DB, time.Hour)
	stale, err := verifications.Create(ctx, acct.Email, acct.ID)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := do(t, router, http.MethodPut, "/auth/profile", signed.BearerToken, map[string]string{
		"email": "After@Example.com",
	})
	rec.AssertStatus(t, http.StatusOK)

	var resp ProfileResponse
	rec.DecodeJSON(t, &resp)
	if resp.Account.Email != "after@example.com" || !resp.RequiresEmailVerification || resp.Account.EmailVerifiedAt != nil {
		t.Fatalf("response = %+v, want lowercased unverified address", resp)
	}

	if len(box.msgs) != 1 || box.msgs[0].Kind != mailer.KindEmailVerification || box.msgs[0].To != "after@example.com" {
		t.Fatalf("notifications = %+v", box.msgs)
	}
	if !strings.Contains(box.msgs[0].Body, "https://app.test/verify-email?token=") {
		t.Errorf("body = %q, want a verification link", box.msgs[0].Body)
	}

	// A link minted for the old address no longer verifies anything.
	if _, err := verifications.Consume(ctx, stale.Token); !errors.Is(err, emailverify.ErrNotFound) {
		t.Errorf("Consume(stale) error = %v, want ErrNotFound", err)
	}

	// The new address must be confirmed before the next login.
	if _, err := s.Handshake.Login(ctx, "after@example.com", authflow.Password, network.Origin{}); !errors.Is(err, twofactor.ErrEmailUnverified) {
		t.Errorf("Login(new) error = %v, want ErrEmailUnverified", err)
	}
	if _, err := s.Handshake.Login(ctx, "before@example.com", authflow.Password, network.Origin{}); !errors.Is(err, twofactor.ErrInvalidCredentials) {
		t.Errorf("Login(old) error = %v, want ErrInvalidCredentials", err)
	}

	// The session that made the change stays valid.
	do(t, router, http.MethodGet, "/auth/me", signed.BearerToken, nil).AssertStatus(t, http.StatusOK)
}

func TestUpdateProfile_SameEmailKeepsVerification(t *testing.T) {
	router, s, box := newRouter(t)
	s.CreateAccount(t, "same@example.com", true)
	signed := s.SignIn(t, "same@example.com")

	rec := do(t, router, http.MethodPut, "/auth/profile", signed.BearerToken, map[string]string{
		"email": "SAME@example.com",
	})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"requiresEmailVerification":false`)
	if len(box.msgs) != 0 {
		t.Errorf("notifications = %+v, want none", box.msgs)
	}
}

func TestUpdateProfile_Rejections(t *testing.T) {
	router, s, _ := newRouter(t)
	s.CreateAccount(t, "taken@example.com", true)
	s.CreateAccount(t, "editor@example.com", true)
	signed := s.SignIn(t, "editor@example.com")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
		field  string
	}{
		{"duplicate email", map[string]string{"email": "Taken@example.com"}, http.StatusConflict, CodeEmailTaken, ""},
		{"empty", map[string]string{}, http.StatusBadRequest, jsonutil.CodeValidation, "name"},
		{"markup only name", map[string]string{"name": "<script></script>"}, http.StatusBadRequest, jsonutil.CodeValidation, "name"},
		{"bad email", map[string]string{"email": "not-an-address"}, http.StatusBadRequest, jsonutil.CodeValidation, "email"},
		{"long name", map[string]string{"name": strings.Repeat("n", 101)}, http.StatusBadRequest, jsonutil.CodeValidation, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPut, "/auth/profile", signed.BearerToken, tt.body)
			rec.AssertStatus(t, tt.status)
			rec.AssertErrorCode(t, tt.code)
			if tt.field == "" {
				return
			}
			var body jsonutil.ErrorBody
			rec.DecodeJSON(t, &body)
			if _, ok := body.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", body.Fields, tt.field)
			}
		})
	}

	do(t, router, http.MethodPut, "/auth/profile", "", map[string]string{"name": "x"}).
		AssertStatus(t, http.StatusUnauthorized)
}

func TestRevokeSession(t *testing.T) {
	router, s, _ := newRouter(t)
	s.CreateAccount(t, "revoke@example.com", true)
	s.CreateAccount(t, "bystander@example.com", true)
	other := s.SignIn(t, "revoke@example.com")
	mine := s.SignIn(t, "revoke@example.com")
	foreign := s.SignIn(t, "bystander@example.com")

	do(t, router, http.MethodPost, "/auth/sessions/"+other.SessionID+"/revoke", mine.BearerToken, nil).
		AssertStatus(t, http.StatusNoContent)
	do(t, router, http.MethodGet, "/auth/me", other.BearerToken, nil).AssertStatus(t, http.StatusUnauthorized)
	do(t, router, http.MethodGet, "/auth/me", mine.BearerToken, nil).AssertStatus(t, http.StatusOK)

	tests := []struct {
		name   string
		id     string
		status int
		code   string
	}{
		{"already revoked", other.SessionID, http.StatusNotFound, CodeSessionMissing},
		{"another account", foreign.SessionID, http.StatusNotFound, CodeSessionMissing},
		{"current session", mine.SessionID, http.StatusBadRequest, CodeUseLogout},
		{"malformed id", "507f1f77bcf86cd799439011", http.StatusBadRequest, jsonutil.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/auth/sessions/"+tt.id+"/revoke", mine.BearerToken, nil)
			rec.AssertStatus(t, tt.status)
			rec.AssertErrorCode(t, tt.code)
		})
	}

	do(t, router, http.MethodGet, "/auth/me", foreign.BearerToken, nil).AssertStatus(t, http.StatusOK)
}

func TestRevokeAllSessions(t *testing.T) {
	router, s, _ := newRouter(t)
	s.CreateAccount(t, "everywhere@example.com", true)
	a := s.SignIn(t, "everywhere@example.com")
	b := s.SignIn(t, "everywhere@example.com")
	mine := s.SignIn(t, "everywhere@example.com")

	rec := do(t, router, http.MethodPost, "/auth/sessions/revoke-all", mine.BearerToken, nil)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"revokedSessions":2`)

	for _, gone := range []string{a.BearerToken, b.BearerToken} {
		do(t, router, http.MethodGet, "/auth/me", gone, nil).AssertStatus(t, http.StatusUnauthorized)
	}
	do(t, router, http.MethodGet, "/auth/me", mine.BearerToken, nil).AssertStatus(t, http.StatusOK)

	rec = do(t, router, http.MethodPost, "/auth/sessions/revoke-all", mine.BearerToken, nil)
	rec.AssertContains(t, `"revokedSessions":0`)
}

func TestChangePassword(t *testing.T) {
	router, s, box := newRouter(t)
	acct := s.CreateAccount(t, "change@example.com", true)
	other := s.SignIn(t, "change@example.com")
	mine := s.SignIn(t, "change@example.com")

	rec := do(t, router, http.MethodPost, "/auth/change-password", mine.BearerToken, map[string]string{
		"currentPassword": authflow.Password,
		"newPassword":     "an entirely new passphrase",
	})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"revokedSessions":1`)

	do(t, router, http.MethodGet, "/auth/me", other.BearerToken, nil).AssertStatus(t, http.StatusUnauthorized)
	do(t, router, http.MethodGet, "/auth/me", mine.BearerToken, nil).AssertStatus(t, http.StatusOK)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	if _, err := s.Handshake.Credentials.Verify(ctx, acct.Email, "an entirely new passphrase"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if _, err := s.Handshake.Credentials.Verify(ctx, acct.Email, authflow.Password); err == nil {
		t.Error("old password still accepted")
	}

	if len(box.msgs) != 1 || box.msgs[0].Kind != mailer.KindPasswordChanged || box.msgs[0].To != acct.Email {
		t.Errorf("notifications = %+v", box.msgs)
	}
}

func TestChangePassword_Rejections(t *testing.T) {
	router, s, box := newRouter(t)
	s.CreateAccount(t, "reject@example.com", true)
	signed := s.SignIn(t, "reject@example.com")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
		field  string
	}{
		{"wrong current", map[string]string{"currentPassword": "nope nope nope", "newPassword": "another good passphrase"}, http.StatusUnauthorized, CodeWrongPassword, ""},
		{"weak new", map[string]string{"currentPassword": authflow.Password, "newPassword": "short"}, http.StatusBadRequest, jsonutil.CodeValidation, "newPassword"},
		{"reused", map[string]string{"currentPassword": authflow.Password, "newPassword": authflow.Password}, http.StatusBadRequest, jsonutil.CodeValidation, "newPassword"},
		{"missing current", map[string]string{"newPassword": "another good passphrase"}, http.StatusBadRequest, jsonutil.CodeValidation, "currentPassword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/auth/change-password", signed.BearerToken, tt.body)
			rec.AssertStatus(t, tt.status)
			rec.AssertErrorCode(t, tt.code)
			if tt.field == "" {
				return
			}
			var body jsonutil.ErrorBody
			rec.DecodeJSON(t, &body)
			if _, ok := body.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", body.Fields, tt.field)
			}
		})
	}

	do(t, router, http.MethodGet, "/auth/me", signed.BearerToken, nil).AssertStatus(t, http.StatusOK)
	if len(box.msgs) != 0 {
		t.Errorf("notifications sent on rejected change: %+v", box.msgs)
	}
}

func TestChangePassword_NotifierFailureIsNotFatal(t *testing.T) {
	s := authflow.New(t)
	s.CreateAccount(t, "quiet@example.com", true)
	signed := s.SignIn(t, "quiet@example.com")

	m := mailer.New(mailer.Config{}, zap.NewNop())
	h := NewHandler(s.DB, s.Sessions, m, failingNotifier{}, nil, "https://app.test", time.Hour, zap.NewNop())
	r := chi.NewRouter()
	r.Route("/auth", func(ar chi.Router) { MountRoutes(ar, h, s.Authenticator) })

	rec := do(t, r, http.MethodPost, "/auth/change-password", signed.BearerToken, map[string]string{
		"currentPassword": authflow.Password,
		"newPassword":     "yet another passphrase",
	})
	rec.AssertStatus(t, http.StatusOK)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, mailer.Message) error {
	return errors.New("smtp down")
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      string
	}{
		{"empty", "", "Unknown Device"},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)", "iPhone"},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 14_0 like Mac OS X)", "iPad"},
		{"android_phone", "Mozilla/5.0 (Linux; Android 10; Mobile)", "Android Phone"},
		{"android_tablet", "Mozilla/5.0 (Linux; Android 10; Tablet)", "Android Tablet"},
		{"windows_chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/90", "Windows (Chrome)"},
		{"windows_edge", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120 Edg/120", "Windows (Edge)"},
		{"mac_safari", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15", "Mac (Safari)"},
		{"mac_firefox", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:88.0) Firefox/88", "Mac (Firefox)"},
		{"linux_bare", "Mozilla/5.0 (X11; Linux x86_64)", "Linux"},
		{"cli", "curl/8.4.0", "Unknown Device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDevice(tt.userAgent); got != tt.want {
				t.Errorf("parseDevice(%q) = %q, want %q", tt.userAgent, got, tt.want)
			}
		})
	}
}
