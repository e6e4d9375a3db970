package bearer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testKey = "bearer-unit-test-signing-key-0123456789"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{SigningKey: testKey, Issuer: "stratamind-test", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing key", Config{}, true},
		{"negative ttl", Config{SigningKey: testKey, TTL: -time.Second}, true},
		{"defaults", Config{SigningKey: testKey}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewManager() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && m.TTL() != DefaultTTL {
				t.Errorf("TTL() = %v, want %v", m.TTL(), DefaultTTL)
			}
		})
	}
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t)

	issued, err := m.Issue("acct-1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if issued.SessionID == "" || issued.Token == "" {
		t.Fatal("Issue() returned empty token or session ID")
	}
	if strings.Count(issued.Token, ".") != 2 {
		t.Errorf("token %q is not a compact JWS", issued.Token)
	}

	claims, err := m.Parse(issued.Token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Errorf("Subject = %q, want acct-1", claims.Subject)
	}
	if claims.SID != issued.SessionID {
		t.Errorf("SID = %q, want %q", claims.SID, issued.SessionID)
	}
	if !claims.ExpiresAt.Time.Equal(issued.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, issued.ExpiresAt)
	}
}

func TestIssue_UniqueSessionIDs(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Issue("acct-1")
	b, _ := m.Issue("acct-1")
	if a.SessionID == b.SessionID || a.Token == b.Token {
		t.Error("two issues for the same subject should differ")
	}
}

func TestParse_Rejects(t *testing.T) {
	m := newTestManager(t)
	issued, _ := m.Issue("acct-1")

	now := time.Now()
	expired, _ := m.WithClock(func() time.Time { return now.Add(-2 * time.Hour) }).Issue("acct-1")

	otherKey, _ := NewManager(Config{SigningKey: "another-signing-key-that-is-long-enough", Issuer: "stratamind-test"})
	foreign, _ := otherKey.Issue("acct-1")

	otherIssuer, _ := NewManager(Config{SigningKey: testKey, Issuer: "someone-else"})
	wrongIss, _ := otherIssuer.Issue("acct-1")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		SID: "x",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-1",
			Issuer:    "stratamind-test",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SID:              "x",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acct-1", Issuer: "stratamind-test"},
	})
	noExpToken, _ := noExp.SignedString([]byte(testKey))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"tampered", issued.Token + "x"},
		{"expired", expired.Token},
		{"wrong key", foreign.Token},
		{"wrong issuer", wrongIss.Token},
		{"alg none", unsigned},
		{"no expiry", noExpToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
