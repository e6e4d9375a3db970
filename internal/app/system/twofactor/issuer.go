package twofactor

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/stratamind/internal/app/store/challenges"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sealer encrypts secrets at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// ChallengeWriter creates challenges and clears stale ones.
type ChallengeWriter interface {
	Create(ctx context.Context, accountID primitive.ObjectID, sealedSecret string, enrollment bool) (*challenges.Challenge, error)
	DeleteUnverifiedForAccount(ctx context.Context, accountID primitive.ObjectID) (int64, error)
	TTL() time.Duration
}

// Issued is what the client receives after a correct password.
type Issued struct {
	ChallengeToken   string
	QRImage          string // PNG data URI of the otpauth provisioning URI
	ManualEntryKey   string // base32 secret, only on first-time setup
	IsFirstTimeSetup bool
	ExpiresInSeconds int
	AccountID        primitive.ObjectID
}

// Issuer starts the second-factor step for an account whose password checked out.
type Issuer struct {
	challenges ChallengeWriter
	box        Sealer
	cfg        TOTPConfig
}

// NewIssuer returns an Issuer. cfg zero values take package defaults.
func NewIssuer(challenges ChallengeWriter, box Sealer, cfg TOTPConfig) *Issuer {
	return &Issuer{challenges: challenges, box: box, cfg: cfg.withDefaults()}
}

// Issue creates a challenge for acct. Accounts without a confirmed secret get
// a fresh candidate secret that is stored only on the challenge; enrolled
// accounts reuse their stored secret. Older unverified challenges for the
// account are removed first so only the newest one can be redeemed.
func (i *Issuer) Issue(ctx context.Context, acct *models.Account) (*Issued, error) {
	enrollment := !acct.SecondFactorEnabled

	var stored string
	if !enrollment {
		if acct.SecondFactorSecret == "" {
			return nil, fmt.Errorf("account %s is enrolled without a secret", acct.ID.Hex())
		}
		s, err := i.box.Open(acct.SecondFactorSecret)
		if err != nil {
			return nil, fmt.Errorf("open stored secret: %w", err)
		}
		stored = s
	}

	key, err := i.cfg.newKey(acct.Email, stored)
	if err != nil {
		return nil, fmt.Errorf("build totp key: %w", err)
	}
	qr, err := i.cfg.qrDataURI(key)
	if err != nil {
		return nil, err
	}

	sealed := acct.SecondFactorSecret
	if enrollment {
		if sealed, err = i.box.Seal(key.Secret()); err != nil {
			return nil, fmt.Errorf("seal secret: %w", err)
		}
	}

	if _, err := i.challenges.DeleteUnverifiedForAccount(ctx, acct.ID); err != nil {
		return nil, fmt.Errorf("invalidate previous challenges: %w", err)
	}
	ch, err := i.challenges.Create(ctx, acct.ID, sealed, enrollment)
	if err != nil {
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	out := &Issued{
		ChallengeToken:   ch.Token,
		QRImage:          qr,
		IsFirstTimeSetup: enrollment,
		ExpiresInSeconds: int(i.challenges.TTL() / time.Second),
		AccountID:        acct.ID,
	}
	if enrollment {
		out.ManualEntryKey = key.Secret()
	}
	return out, nil
}
