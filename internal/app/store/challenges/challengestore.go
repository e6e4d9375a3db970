// internal/app/store/challenges/challengestore.go
package challenges

// Terminology: Challenge Identifiers
//   - Token / token: The opaque, URL-safe value the client carries between login and verification
//   - AccountID / accountID / account_id: The account the challenge was issued to

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding second-factor challenges.
const CollectionName = "second_factor_challenges"

// DefaultTTL is how long a challenge stays valid after issuance.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotFound is returned when no challenge exists for a token.
	ErrNotFound = errors.New("challenge not found")

	// ErrExpired is returned when the challenge exists but is past its expiry.
	// The record is deleted as part of the read that discovers it.
	ErrExpired = errors.New("challenge expired")

	// ErrAlreadyVerified is returned when the challenge was already redeemed.
	ErrAlreadyVerified = errors.New("challenge already verified")
)

// Challenge is a short-lived, single-use second-factor challenge.
//
// Secret holds the sealed TOTP secret the code must be checked against. When
// Enrollment is true the secret is not yet stored on the account and will be
// persisted there on successful verification.
type Challenge struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Token      string             `bson:"token"`
	AccountID  primitive.ObjectID `bson:"account_id"`
	Secret     string             `bson:"secret"`
	Enrollment bool               `bson:"enrollment"`
	Verified   bool               `bson:"verified"`
	VerifiedAt *time.Time         `bson:"verified_at,omitempty"`
	CreatedAt  time.Time          `bson:"created_at"`
	ExpiresAt  time.Time          `bson:"expires_at"`
}

// ExpiredAt reports whether the challenge is expired at t.
func (c *Challenge) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// Store provides access to the second_factor_challenges collection.
type Store struct {
	c   *mongo.Collection
	ttl time.Duration
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a challenge store. A non-positive ttl falls back to DefaultTTL.
func New(db *mongo.Database, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		c:   db.Collection(CollectionName),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured challenge lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create issues a new unverified challenge for an account.
func (s *Store) Create(ctx context.Context, accountID primitive.ObjectID, sealedSecret string, enrollment bool) (*Challenge, error) {
	if sealedSecret == "" {
		return nil, errors.New("challenge secret is empty")
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate challenge token: %w", err)
	}

	now := s.now().UTC()
	ch := Challenge{
		ID:         primitive.NewObjectID(),
		Token:      token,
		AccountID:  accountID,
		Secret:     sealedSecret,
		Enrollment: enrollment,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	if _, err := s.c.InsertOne(ctx, ch); err != nil {
		return nil, fmt.Errorf("insert challenge: %w", err)
	}
	return &ch, nil
}

// Find loads a challenge by token.
// Returns ErrNotFound when absent and ErrExpired (after deleting it) when past expiry.
func (s *Store) Find(ctx context.Context, token string) (*Challenge, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	var ch Challenge
	if err := s.c.FindOne(ctx, bson.M{"token": token}).Decode(&ch); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find challenge: %w", err)
	}

	if ch.ExpiredAt(s.now()) {
		if err := s.Delete(ctx, token); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}
	return &ch, nil
}

// MarkVerified atomically flips verified from false to true.
//
// Exactly one caller can win for a given token. Losers get ErrAlreadyVerified,
// or ErrNotFound/ErrExpired when the challenge is gone.
func (s *Store) MarkVerified(ctx context.Context, token string) (*Challenge, error) {
	now := s.now().UTC()
	filter := bson.M{
		"token":      token,
		"verified":   false,
		"expires_at": bson.M{"$gt": now},
	}
	update := bson.M{"$set": bson.M{"verified": true, "verified_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ch Challenge
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&ch)
	if err == nil {
		return &ch, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("mark challenge verified: %w", err)
	}

	// Nothing matched; work out which condition failed.
	existing, ferr := s.Find(ctx, token)
	if ferr != nil {
		return nil, ferr
	}
	if existing.Verified {
		return nil, ErrAlreadyVerified
	}
	// Expired between the update and the read.
	return nil, ErrExpired
}

// Release flips a verified challenge back to unverified. It undoes
// MarkVerified when no session could be issued for the challenge, so the
// client can submit a code again. Releasing an unverified or missing
// challenge is not an error.
func (s *Store) Release(ctx context.Context, token string) error {
	filter := bson.M{"token": token, "verified": true}
	update := bson.M{
		"$set":   bson.M{"verified": false},
		"$unset": bson.M{"verified_at": ""},
	}
	if _, err := s.c.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("release challenge: %w", err)
	}
	return nil
}

// Delete removes a challenge by token. Deleting a missing challenge is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	if _, err := s.c.DeleteOne(ctx, bson.M{"token": token}); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// DeleteUnverifiedForAccount removes all outstanding challenges for an account.
// Called before issuing a fresh challenge so only the newest one can be redeemed.
func (s *Store) DeleteUnverifiedForAccount(ctx context.Context, accountID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"account_id": accountID, "verified": false})
	if err != nil {
		return 0, fmt.Errorf("delete account challenges: %w", err)
	}
	return res.DeletedCount, nil
}

// DeleteExpired removes every challenge past its expiry.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": s.now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	return res.DeletedCount, nil
}

// generateToken generates a random URL-safe token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
