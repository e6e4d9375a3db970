// internal/domain/models/account.go
package models

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The MongoDB ObjectID (_id) that uniquely identifies an account
//   - Email / email: The human-readable address users type to log in (stored lowercase, unique)

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account represents a person who can sign in to the companion app.
//
// Second-factor fields:
//   - SecondFactorSecret: sealed TOTP shared secret, empty until the first successful verification
//   - SecondFactorEnabled: true once the secret has been confirmed with a valid code
//
// SecondFactorEnabled == true implies SecondFactorSecret is non-empty. Both fields are written
// together, exactly once, by the second-factor verifier.
type Account struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name    string             `bson:"name" json:"name"`
	Email   string             `bson:"email" json:"email"` // lowercase
	EmailCI string             `bson:"email_ci" json:"-"`  // folded for case/diacritic-insensitive matching

	PasswordHash string `bson:"password_hash" json:"-"` // bcrypt hash (never in JSON)

	// EmailVerifiedAt is nil until the address has been confirmed.
	EmailVerifiedAt *time.Time `bson:"email_verified_at" json:"email_verified_at"`

	SecondFactorSecret  string     `bson:"second_factor_secret,omitempty" json:"-"`
	SecondFactorEnabled bool       `bson:"second_factor_enabled" json:"second_factor_enabled"`
	SecondFactorSince   *time.Time `bson:"second_factor_since,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// EmailVerified reports whether the account's email address has been confirmed.
func (a *Account) EmailVerified() bool {
	return a.EmailVerifiedAt != nil
}

// AccountSummary is the public view of an account returned to clients.
// It never carries the password hash or the second-factor secret.
type AccountSummary struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	EmailVerifiedAt     *time.Time `json:"emailVerifiedAt,omitempty"`
	SecondFactorEnabled bool       `json:"secondFactorEnabled"`
}

// Summary returns the client-safe view of the account.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:                  a.ID.Hex(),
		Name:                a.Name,
		Email:               a.Email,
		EmailVerifiedAt:     a.EmailVerifiedAt,
		SecondFactorEnabled: a.SecondFactorEnabled,
	}
}
