// internal/app/store/emailverify/emailverifystore.go
package emailverify

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

// CollectionName is the MongoDB collection holding email verification tokens.
const CollectionName = "email_verifications"

var (
	// ErrNotFound is returned when a token does not exist or was already used.
	ErrNotFound = errors.New("verification token not found")
	// ErrExpired is returned when the token exists but is past its expiry.
	ErrExpired = errors.New("verification token expired")
)

// Verification represents an email verification record.
type Verification struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Email     string             `bson:"email"`
	AccountID primitive.ObjectID `bson:"account_id"`
	Token     string             `bson:"token"`
	Used      bool               `bson:"used"`
	ExpiresAt time.Time          `bson:"expires_at"`
	CreatedAt time.Time          `bson:"created_at"`
}

// Store provides access to the email_verifications collection.
type Store struct {
	c      *mongo.Collection
	expiry time.Duration
	now    func() time.Time
}

// New creates a new email verification store.
func New(db *mongo.Database, expiry time.Duration) *Store {
	return &Store{
		c:      db.Collection(CollectionName),
		expiry: expiry,
		now:    time.Now,
	}
}

// Create issues a new verification token for an account's email.
func (s *Store) Create(ctx context.Context, email string, accountID primitive.ObjectID) (*Verification, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	v := Verification{
		ID:        primitive.NewObjectID(),
		Email:     email,
		AccountID: accountID,
		Token:     token,
		ExpiresAt: now.Add(s.expiry),
		CreatedAt: now,
	}

	if _, err := s.c.InsertOne(ctx, v); err != nil {
		return nil, fmt.Errorf("insert verification: %w", err)
	}
	return &v, nil
}

// Consume marks a token used and returns it. A token can be consumed once.
func (s *Store) Consume(ctx context.Context, token string) (*Verification, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	now := s.now().UTC()

	var v Verification
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"token": token, "used": false, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"used": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&v)
	if err == nil {
		return &v, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("consume verification: %w", err)
	}

	// Distinguish expired from missing/used.
	if err := s.c.FindOne(ctx, bson.M{"token": token, "used": false}).Decode(&v); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find verification: %w", err)
	}
	_, _ = s.c.DeleteOne(ctx, bson.M{"_id": v.ID})
	return nil, ErrExpired
}

// DeleteForAccount removes all outstanding tokens for an account.
func (s *Store) DeleteForAccount(ctx context.Context, accountID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"account_id": accountID, "used": false})
	return err
}

// DeleteExpired removes every token past its expiry.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": s.now().UTC()}})
	if err != nil {
		return 0, err
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
