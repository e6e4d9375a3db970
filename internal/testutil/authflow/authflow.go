// Package authflow assembles the real login stack on a test database so
// feature tests can drive complete handshakes.
package authflow

import (
	"sync"
	"testing"
	"time"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/store/challenges"
	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/auth"
	"github.com/dalemusser/stratamind/internal/app/system/authutil"
	"github.com/dalemusser/stratamind/internal/app/system/bearer"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/dalemusser/stratamind/internal/app/system/secretbox"
	"github.com/dalemusser/stratamind/internal/app/system/twofactor"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"github.com/dalemusser/stratamind/internal/testutil"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Password is the password of every account created by Stack.CreateAccount.
const Password = "correct horse battery"

// Clock is a settable time source shared by the stores and the verifier.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Stack is a fully wired login stack.
type Stack struct {
	DB            *mongo.Database
	Clock         *Clock
	Accounts      *accountstore.Store
	Challenges    *challenges.Store
	Sessions      *sessions.Store
	Tokens        *bearer.Manager
	Box           *secretbox.Box
	Handshake     *twofactor.Handshake
	Authenticator *auth.Authenticator
}

// New builds a Stack on a fresh test database.
func New(t *testing.T) *Stack {
	t.Helper()
	db := testutil.SetupTestDB(t)
	// Real time so the TTL monitor leaves records alone during the test.
	clock := &Clock{t: time.Now().UTC().Truncate(time.Millisecond)}

	box, err := secretbox.New("authflow-test-sealing-key-0123456789")
	if err != nil {
		t.Fatalf("secretbox.New() error = %v", err)
	}
	tokens, err := bearer.NewManager(bearer.Config{SigningKey: "authflow-test-signing-key-0123456789"})
	if err != nil {
		t.Fatalf("bearer.NewManager() error = %v", err)
	}
	tokens = tokens.WithClock(clock.Now)

	s := &Stack{
		DB:         db,
		Clock:      clock,
		Accounts:   accountstore.New(db),
		Challenges: challenges.New(db, challenges.DefaultTTL, challenges.WithClock(clock.Now)),
		Sessions:   sessions.New(db).WithClock(clock.Now),
		Tokens:     tokens,
		Box:        box,
	}

	cfg := twofactor.TOTPConfig{QRSize: 64}
	verifier := twofactor.NewVerifier(twofactor.VerifierDeps{
		Challenges: s.Challenges,
		Accounts:   s.Accounts,
		Sessions:   twofactor.NewSessionIssuer(tokens, s.Sessions),
		Box:        box,
	}, cfg).WithClock(clock.Now)

	s.Handshake = twofactor.NewHandshake(
		twofactor.NewCredentialVerifier(s.Accounts),
		twofactor.NewIssuer(s.Challenges, box, cfg),
		verifier,
		nil,
	)
	s.Authenticator = auth.NewAuthenticator(tokens, s.Sessions, s.Accounts, zap.NewNop())
	return s
}

// CreateAccount inserts an account with Password. verified controls whether
// the email address is already confirmed.
func (s *Stack) CreateAccount(t *testing.T, email string, verified bool) *models.Account {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	hash, err := authutil.HashPassword(Password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	acct, err := s.Accounts.Create(ctx, models.Account{Name: "Test User", Email: email, PasswordHash: hash})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if verified {
		if err := s.Accounts.MarkEmailVerified(ctx, acct.ID); err != nil {
			t.Fatalf("MarkEmailVerified() error = %v", err)
		}
	}
	got, err := s.Accounts.GetByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return got
}

// SecretFor opens the TOTP secret carried by a challenge.
func (s *Stack) SecretFor(t *testing.T, challengeToken string) string {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ch, err := s.Challenges.Find(ctx, challengeToken)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	secret, err := s.Box.Open(ch.Secret)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return secret
}

// Code returns the current authenticator code for a challenge.
func (s *Stack) Code(t *testing.T, challengeToken string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(s.SecretFor(t, challengeToken), s.Clock.Now(), totp.ValidateOpts{
		Period:    twofactor.DefaultPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error = %v", err)
	}
	return code
}

// SignIn runs a full handshake for email and returns the bearer token.
func (s *Stack) SignIn(t *testing.T, email string) *twofactor.Verified {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	origin := network.Origin{IP: "203.0.113.9", UserAgent: "authflow"}
	issued, err := s.Handshake.Login(ctx, email, Password, origin)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	res, err := s.Handshake.Verify(ctx, issued.ChallengeToken, s.Code(t, issued.ChallengeToken), origin)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	return res
}
