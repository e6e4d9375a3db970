package twofactor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/stratamind/internal/app/store/challenges"
	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"github.com/dalemusser/stratamind/internal/app/system/bearer"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/dalemusser/stratamind/internal/domain/models"
)

// TokenIssuer mints signed bearer tokens.
type TokenIssuer interface {
	Issue(subject string) (bearer.Issued, error)
}

// SessionWriter persists session records.
type SessionWriter interface {
	Create(ctx context.Context, s sessions.Session) (*sessions.Session, error)
}

// errChallengeNotRedeemed guards the only entry into session creation.
var errChallengeNotRedeemed = errors.New("session requires a verified challenge for the same account")

// SessionIssuer turns a verified challenge into a durable bearer session.
type SessionIssuer struct {
	tokens   TokenIssuer
	sessions SessionWriter
}

// NewSessionIssuer returns a SessionIssuer.
func NewSessionIssuer(tokens TokenIssuer, sessions SessionWriter) *SessionIssuer {
	return &SessionIssuer{tokens: tokens, sessions: sessions}
}

// Issue mints a token for acct and records the session. ch must be the
// challenge that was just marked verified for acct.
func (s *SessionIssuer) Issue(ctx context.Context, acct *models.Account, ch *challenges.Challenge, o network.Origin) (bearer.Issued, error) {
	if ch == nil || !ch.Verified || ch.AccountID != acct.ID {
		return bearer.Issued{}, errChallengeNotRedeemed
	}

	issued, err := s.tokens.Issue(acct.ID.Hex())
	if err != nil {
		return bearer.Issued{}, fmt.Errorf("mint bearer token: %w", err)
	}
	_, err = s.sessions.Create(ctx, sessions.Session{
		SessionID:      issued.SessionID,
		Token:          issued.Token,
		AccountID:      acct.ID,
		ChallengeToken: ch.Token,
		IPAddress:      o.IP,
		UserAgent:      o.UserAgent,
		ExpiresAt:      issued.ExpiresAt,
	})
	if err != nil {
		return bearer.Issued{}, fmt.Errorf("persist session: %w", err)
	}
	return issued, nil
}
