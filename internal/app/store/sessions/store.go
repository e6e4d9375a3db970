// internal/app/store/sessions/store.go
package sessions

// Terminology: Session Identifiers
//   - SessionID / sessionID / session_id: The uuid carried in the bearer token's "sid" claim
//   - Token / token: The full bearer token string handed to the client
//   - AccountID / accountID / account_id: The account the session authenticates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding sessions.
const CollectionName = "sessions"

// ErrNotFound is returned when a session is absent, logged out, or expired.
var ErrNotFound = errors.New("session not found")

// Session is an authenticated session created after a second-factor challenge
// was verified. Deleting the record revokes the bearer token bound to it.
type Session struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	SessionID      string             `bson:"session_id"`
	Token          string             `bson:"token"`
	AccountID      primitive.ObjectID `bson:"account_id"`
	ChallengeToken string             `bson:"challenge_token,omitempty"` // challenge that produced this session
	IPAddress      string             `bson:"ip_address,omitempty"`
	UserAgent      string             `bson:"user_agent,omitempty"`

	// TTL expiration
	ExpiresAt time.Time `bson:"expires_at"`

	CreatedAt time.Time `bson:"created_at"`
}

// Store manages session records in MongoDB.
type Store struct {
	c   *mongo.Collection
	now func() time.Time
}

// New creates a new session Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName), now: time.Now}
}

// WithClock returns a copy of the store that reads time from now.
func (s *Store) WithClock(now func() time.Time) *Store {
	cp := *s
	cp.now = now
	return &cp
}

// Create persists a new session. SessionID, Token, AccountID and ExpiresAt must be set.
func (s *Store) Create(ctx context.Context, session Session) (*Session, error) {
	if session.SessionID == "" || session.Token == "" {
		return nil, errors.New("session id and token are required")
	}
	if session.AccountID.IsZero() {
		return nil, errors.New("session account is required")
	}
	if session.ExpiresAt.IsZero() {
		return nil, errors.New("session expiry is required")
	}
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	session.CreatedAt = s.now().UTC()

	if _, err := s.c.InsertOne(ctx, session); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &session, nil
}

// GetByToken retrieves a live session by its bearer token.
// Expired records are deleted and reported as ErrNotFound.
func (s *Store) GetByToken(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	var session Session
	if err := s.c.FindOne(ctx, bson.M{"token": token}).Decode(&session); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	if !s.now().Before(session.ExpiresAt) {
		if err := s.Delete(ctx, token); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return &session, nil
}

// Delete removes a session by token. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	if _, err := s.c.DeleteOne(ctx, bson.M{"token": token}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByAccount removes all sessions for an account.
func (s *Store) DeleteByAccount(ctx context.Context, accountID primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return 0, fmt.Errorf("delete account sessions: %w", err)
	}
	return res.DeletedCount, nil
}

// DeleteForAccount removes the session with sessionID if it belongs to the
// account. It reports whether a session was removed.
func (s *Store) DeleteForAccount(ctx context.Context, accountID primitive.ObjectID, sessionID string) (bool, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"account_id": accountID, "session_id": sessionID})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// DeleteOthers removes every session of the account except the one with keepToken.
func (s *Store) DeleteOthers(ctx context.Context, accountID primitive.ObjectID, keepToken string) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"account_id": accountID, "token": bson.M{"$ne": keepToken}})
	if err != nil {
		return 0, fmt.Errorf("delete other sessions: %w", err)
	}
	return res.DeletedCount, nil
}

// ListByAccount returns the account's live sessions, newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID primitive.ObjectID) ([]Session, error) {
	cur, err := s.c.Find(ctx,
		bson.M{"account_id": accountID, "expires_at": bson.M{"$gt": s.now().UTC()}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

// CountByChallenge counts sessions issued from a given challenge token.
func (s *Store) CountByChallenge(ctx context.Context, challengeToken string) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"challenge_token": challengeToken})
}

// CountActive counts sessions that have not expired.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"expires_at": bson.M{"$gt": s.now().UTC()}})
}

// DeleteExpired removes every session past its expiry.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": s.now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.DeletedCount, nil
}
