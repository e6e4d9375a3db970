package auth

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The MongoDB ObjectID (_id) of the account
//   - SessionID / sessionID: The uuid in the bearer token's "sid" claim

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/bearer"
	"github.com/dalemusser/stratamind/internal/app/system/jsonutil"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Dependencies                                                                |
*─────────────────────────────────────────────────────────────────────────────*/

// TokenParser verifies a bearer token's signature and claims.
type TokenParser interface {
	Parse(raw string) (*bearer.Claims, error)
}

// SessionFinder looks up the live session record bound to a token.
type SessionFinder interface {
	GetByToken(ctx context.Context, token string) (*sessions.Session, error)
}

// AccountFetcher loads the account a session belongs to.
type AccountFetcher interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Current-Account helper                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// Principal is the authenticated caller in the request context. The account
// is loaded fresh on every request so password resets and session revocation
// take effect immediately.
type Principal struct {
	Account   *models.Account
	SessionID string
	Token     string
}

// AccountID returns the authenticated account's ObjectID.
func (p *Principal) AccountID() primitive.ObjectID {
	if p == nil || p.Account == nil {
		return primitive.NilObjectID
	}
	return p.Account.ID
}

type ctxKey string

const principalKey ctxKey = "principal"

// CurrentAccount returns the principal and a "found?" flag from the request context.
func CurrentAccount(r *http.Request) (*Principal, bool) {
	p, ok := r.Context().Value(principalKey).(*Principal)
	return p, ok
}

func withPrincipal(r *http.Request, p *Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalKey, p))
}

// WithTestAccount injects a principal for handler tests.
func WithTestAccount(r *http.Request, p *Principal) *http.Request {
	return withPrincipal(r, p)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Middleware                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// Authenticator resolves "Authorization: Bearer <token>" into a Principal.
type Authenticator struct {
	tokens   TokenParser
	sessions SessionFinder
	accounts AccountFetcher
	logger   *zap.Logger
}

// NewAuthenticator wires the token, session, and account lookups.
func NewAuthenticator(tokens TokenParser, sessions SessionFinder, accounts AccountFetcher, logger *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, sessions: sessions, accounts: accounts, logger: logger}
}

var errNoCredentials = errors.New("no bearer credentials")

// Resolve authenticates a raw token. A token is accepted only if its
// signature verifies, its session record is still live, and both the session
// ID and the subject match that record.
func (a *Authenticator) Resolve(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, errNoCredentials
	}
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	sess, err := a.sessions.GetByToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if sess.SessionID != claims.SID || sess.AccountID.Hex() != claims.Subject {
		return nil, bearer.ErrInvalidToken
	}
	acct, err := a.accounts.GetByID(ctx, sess.AccountID)
	if err != nil {
		return nil, err
	}
	return &Principal{Account: acct, SessionID: sess.SessionID, Token: raw}, nil
}

// Require returns middleware that rejects requests without a valid session.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := TokenFromHeader(r)
		if !ok {
			a.logger.Debug("request rejected: missing or malformed Authorization header",
				zap.String("path", r.URL.Path))
			jsonutil.Unauthorized(w, "unauthenticated", "authentication required")
			return
		}

		p, err := a.Resolve(r.Context(), raw)
		switch {
		case err == nil:
			next.ServeHTTP(w, withPrincipal(r, p))
		case errors.Is(err, bearer.ErrInvalidToken),
			errors.Is(err, sessions.ErrNotFound),
			errors.Is(err, mongo.ErrNoDocuments):
			a.logger.Info("request rejected: session invalid or revoked",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			jsonutil.Unauthorized(w, "invalid_session", "session is invalid or has expired")
		default:
			a.logger.Error("session lookup failed",
				zap.Error(err),
				zap.String("path", r.URL.Path))
			jsonutil.InternalError(w)
		}
	})
}

// TokenFromHeader extracts the token from "Authorization: Bearer <token>".
func TokenFromHeader(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
