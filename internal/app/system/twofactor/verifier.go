package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/store/challenges"
	"github.com/dalemusser/stratamind/internal/app/system/attemptlimit"
	"github.com/dalemusser/stratamind/internal/app/system/auditlog"
	"github.com/dalemusser/stratamind/internal/app/system/network"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ChallengeRedeemer reads challenges and flips them to verified. Release
// undoes MarkVerified when no session could be issued.
type ChallengeRedeemer interface {
	Find(ctx context.Context, token string) (*challenges.Challenge, error)
	MarkVerified(ctx context.Context, token string) (*challenges.Challenge, error)
	Release(ctx context.Context, token string) error
}

// AccountEnroller loads accounts and records a confirmed secret.
type AccountEnroller interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error)
	EnableSecondFactor(ctx context.Context, id primitive.ObjectID, sealedSecret string) error
}

// VerifierDeps are the collaborators of a Verifier. Limiter and Audit may be nil.
type VerifierDeps struct {
	Challenges ChallengeRedeemer
	Accounts   AccountEnroller
	Sessions   *SessionIssuer
	Box        Sealer
	Limiter    *attemptlimit.Limiter
	Audit      *auditlog.Logger
	Logger     *zap.Logger
}

// Verified is the result of a successful code check.
type Verified struct {
	BearerToken string
	SessionID   string
	ExpiresAt   time.Time
	Account     models.AccountSummary
}

// Verifier checks submitted codes against challenges and issues sessions.
type Verifier struct {
	d   VerifierDeps
	cfg TOTPConfig
	now func() time.Time
}

// NewVerifier returns a Verifier. cfg zero values take package defaults.
func NewVerifier(d VerifierDeps, cfg TOTPConfig) *Verifier {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Verifier{d: d, cfg: cfg.withDefaults(), now: time.Now}
}

// WithClock returns a copy of v that reads time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Verify redeems token with code. InvalidCode leaves the challenge usable;
// not-found, expired, and already-verified are terminal for the token.
func (v *Verifier) Verify(ctx context.Context, token, code string, o network.Origin) (*Verified, error) {
	ch, err := v.d.Challenges.Find(ctx, token)
	if err != nil {
		v.auditLookupFailure(ctx, o, token, err)
		return nil, err
	}
	if ch.Verified {
		v.d.Audit.SecondFactorFailed(ctx, o, &ch.AccountID, token, reasonFor(ErrChallengeAlreadyVerified))
		return nil, ErrChallengeAlreadyVerified
	}

	if err := v.d.Limiter.Check(ctx, token); err != nil {
		if errors.Is(err, attemptlimit.ErrLimited) {
			v.d.Audit.SecondFactorFailed(ctx, o, &ch.AccountID, token, reasonFor(ErrTooManyAttempts))
			return nil, ErrTooManyAttempts
		}
		v.d.Logger.Warn("attempt limiter unavailable; continuing without it", zap.Error(err))
	}

	secret, err := v.d.Box.Open(ch.Secret)
	if err != nil {
		return nil, fmt.Errorf("open challenge secret: %w", err)
	}
	ok, err := v.cfg.validate(code, secret, v.now())
	if err != nil {
		return nil, fmt.Errorf("validate code: %w", err)
	}
	if !ok {
		if _, lerr := v.d.Limiter.RecordFailure(ctx, token); lerr != nil && !errors.Is(lerr, attemptlimit.ErrLimited) {
			v.d.Logger.Warn("record code failure", zap.Error(lerr))
		}
		v.d.Audit.SecondFactorFailed(ctx, o, &ch.AccountID, token, reasonFor(ErrInvalidCode))
		return nil, ErrInvalidCode
	}

	// Compare-and-set on verified; a concurrent loser stops here.
	ch, err = v.d.Challenges.MarkVerified(ctx, token)
	if err != nil {
		v.auditLookupFailure(ctx, o, token, err)
		return nil, err
	}
	if err := v.d.Limiter.Reset(ctx, token); err != nil {
		v.d.Logger.Warn("reset code failures", zap.Error(err))
	}

	if ch.Enrollment {
		if err := v.enroll(ctx, ch, secret); err != nil {
			if errors.Is(err, ErrEnrollmentSuperseded) {
				v.d.Audit.SecondFactorFailed(ctx, o, &ch.AccountID, token, reasonFor(err))
				return nil, err
			}
			return nil, v.release(ctx, token, err)
		}
		v.d.Audit.SecondFactorEnrolled(ctx, o, ch.AccountID)
	}

	acct, err := v.d.Accounts.GetByID(ctx, ch.AccountID)
	if err != nil {
		return nil, v.release(ctx, token, fmt.Errorf("load account: %w", err))
	}
	issued, err := v.d.Sessions.Issue(ctx, acct, ch, o)
	if err != nil {
		return nil, v.release(ctx, token, err)
	}
	v.d.Audit.SecondFactorVerified(ctx, o, ch.AccountID, token)
	v.d.Audit.SessionIssued(ctx, o, acct.ID, issued.SessionID)

	return &Verified{
		BearerToken: issued.Token,
		SessionID:   issued.SessionID,
		ExpiresAt:   issued.ExpiresAt,
		Account:     acct.Summary(),
	}, nil
}

// enroll stores the challenge's secret on the account. If another challenge
// won the enrollment, the stored secret must be the same one.
func (v *Verifier) enroll(ctx context.Context, ch *challenges.Challenge, secret string) error {
	err := v.d.Accounts.EnableSecondFactor(ctx, ch.AccountID, ch.Secret)
	if err == nil {
		return nil
	}
	if !errors.Is(err, accountstore.ErrAlreadyEnrolled) {
		return fmt.Errorf("enable second factor: %w", err)
	}

	acct, err := v.d.Accounts.GetByID(ctx, ch.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	current, err := v.d.Box.Open(acct.SecondFactorSecret)
	if err != nil {
		return fmt.Errorf("open stored secret: %w", err)
	}
	if current != secret {
		return ErrEnrollmentSuperseded
	}
	return nil
}

// release returns a challenge whose session could not be issued to the
// unverified state, so the same token and a fresh code can be retried. If
// the release fails too, the challenge stays consumed and the result wraps
// ErrRestartLogin.
func (v *Verifier) release(ctx context.Context, token string, cause error) error {
	if err := v.d.Challenges.Release(ctx, token); err != nil {
		v.d.Logger.Error("release challenge after failed session issue",
			zap.Error(err), zap.NamedError("cause", cause))
		return fmt.Errorf("%w: %v", ErrRestartLogin, cause)
	}
	return cause
}

func (v *Verifier) auditLookupFailure(ctx context.Context, o network.Origin, token string, err error) {
	switch {
	case errors.Is(err, challenges.ErrExpired):
		v.d.Audit.SecondFactorExpired(ctx, o, token)
	case errors.Is(err, challenges.ErrNotFound), errors.Is(err, challenges.ErrAlreadyVerified):
		v.d.Audit.SecondFactorFailed(ctx, o, nil, token, reasonFor(err))
	}
}

// Status reports whether the challenge has been verified. It is a plain
// read; the only write is the lazy delete of an expired challenge.
func (v *Verifier) Status(ctx context.Context, token string) (bool, error) {
	ch, err := v.d.Challenges.Find(ctx, token)
	if err != nil {
		return false, err
	}
	return ch.Verified, nil
}

// reasonFor maps a handshake error to the short reason stored in audit records.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeAlreadyVerified):
		return "challenge_already_verified"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrEnrollmentSuperseded):
		return "enrollment_superseded"
	case errors.Is(err, ErrUnknownEmail):
		return "unknown_email"
	case errors.Is(err, ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, ErrEmailUnverified):
		return "email_unverified"
	default:
		return "error"
	}
}
