package twofactor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/stratamind/internal/app/system/authutil"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
)

// AccountFinder looks accounts up by email.
type AccountFinder interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

// CredentialVerifier checks an email and password pair. It never decides
// anything about the second factor.
type CredentialVerifier struct {
	accounts AccountFinder
}

// NewCredentialVerifier returns a verifier over accounts.
func NewCredentialVerifier(accounts AccountFinder) *CredentialVerifier {
	return &CredentialVerifier{accounts: accounts}
}

// Verify returns the account for a matching email and password. Failures
// match ErrInvalidCredentials. Unknown emails still pay for a bcrypt comparison.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*models.Account, error) {
	acct, err := v.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			authutil.BurnCompare(password)
			return nil, ErrUnknownEmail
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if acct.PasswordHash == "" || !authutil.CheckPassword(password, acct.PasswordHash) {
		return nil, ErrWrongPassword
	}
	return acct, nil
}
