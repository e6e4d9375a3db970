// internal/app/store/passwordreset/passwordresetstore.go
package passwordreset

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding password reset tokens.
const CollectionName = "password_resets"

// DefaultExpiry is how long a reset link stays valid.
const DefaultExpiry = time.Hour

var (
	// ErrNotFound is returned when a reset token does not exist or was already used.
	ErrNotFound = errors.New("reset token not found")
	// ErrExpired is returned when the token exists but is past its expiry.
	ErrExpired = errors.New("reset token expired")
)

// Reset represents a password reset request.
type Reset struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	AccountID primitive.ObjectID `bson:"account_id"`
	Token     string             `bson:"token"`
	Used      bool               `bson:"used"`
	ExpiresAt time.Time          `bson:"expires_at"`
	CreatedAt time.Time          `bson:"created_at"`
}

// Store provides access to the password_resets collection.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
	now    func() time.Time
}

// New creates a new password reset store. A non-positive expiry uses DefaultExpiry.
func New(db *mongo.Database, expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Store{
		c:      db.Collection(CollectionName),
		expiry: expiry,
		now:    time.Now,
	}
}

// Create issues a new reset token. Outstanding tokens for the account are removed
// so only the most recent link works.
func (s *Store) Create(ctx context.Context, accountID primitive.ObjectID) (*Reset, error) {
	if _, err := s.c.DeleteMany(ctx, bson.M{"account_id": accountID}); err != nil {
		return nil, fmt.Errorf("clear previous resets: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := Reset{
		ID:        primitive.NewObjectID(),
		AccountID: accountID,
		Token:     token,
		ExpiresAt: now.Add(s.expiry),
		CreatedAt: now,
	}
	if _, err := s.c.InsertOne(ctx, r); err != nil {
		return nil, fmt.Errorf("insert reset: %w", err)
	}
	return &r, nil
}

// Consume marks a token used and returns it. Expired tokens are deleted.
func (s *Store) Consume(ctx context.Context, token string) (*Reset, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	now := s.now().UTC()

	var r Reset
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"token": token, "used": false, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"used": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&r)
	if err == nil {
		return &r, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("consume reset: %w", err)
	}

	if err := s.c.FindOne(ctx, bson.M{"token": token, "used": false}).Decode(&r); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find reset: %w", err)
	}
	_, _ = s.c.DeleteOne(ctx, bson.M{"_id": r.ID})
	return nil, ErrExpired
}

// DeleteExpired removes every token past its expiry.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": s.now().UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// generateToken returns 32 random bytes, hex encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
