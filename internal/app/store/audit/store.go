// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding audit events.
const CollectionName = "audit_logs"

// Event categories
const (
	CategoryAuth    = "auth"
	CategoryAccount = "account"
)

// Auth event types
const (
	EventLoginPasswordOK          = "login_password_ok"
	EventLoginFailedUnknownEmail  = "login_failed_unknown_email"
	EventLoginFailedWrongPassword = "login_failed_wrong_password"
	EventLoginFailedUnverified    = "login_failed_email_unverified"
	EventLoginLockedOut           = "login_locked_out"
	EventSecondFactorIssued       = "second_factor_issued"
	EventSecondFactorVerified     = "second_factor_verified"
	EventSecondFactorFailed       = "second_factor_failed"
	EventSecondFactorExpired      = "second_factor_expired"
	EventSecondFactorEnrolled     = "second_factor_enrolled"
	EventSessionIssued            = "session_issued"
	EventLogout                   = "logout"
)

// Account event types
const (
	EventAccountRegistered  = "account_registered"
	EventEmailVerified      = "email_verified"
	EventVerificationResent = "verification_resent"
	EventVerificationFailed = "verification_failed"
	EventPasswordChanged    = "password_changed"
	EventPasswordResetSent  = "password_reset_requested"
	EventPasswordReset      = "password_reset"
	EventProfileUpdated     = "profile_updated"
	EventEmailChanged       = "email_changed"
	EventSessionRevoked     = "session_revoked"
)

// Event represents an audit event.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`

	Category  string `bson:"category"`
	EventType string `bson:"event_type"`

	AccountID *primitive.ObjectID `bson:"account_id,omitempty"`

	IP        string `bson:"ip"`
	UserAgent string `bson:"user_agent,omitempty"`

	Success       bool   `bson:"success"`
	FailureReason string `bson:"failure_reason,omitempty"`

	// Additional details (varies by event type)
	Details map[string]string `bson:"details,omitempty"`
}

// QueryFilter defines filters for querying audit events.
type QueryFilter struct {
	AccountID *primitive.ObjectID
	Category  string
	EventType string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int64
	Offset    int64
}

func (f QueryFilter) toBSON() bson.M {
	query := bson.M{}
	if f.AccountID != nil {
		query["account_id"] = *f.AccountID
	}
	if f.Category != "" {
		query["category"] = f.Category
	}
	if f.EventType != "" {
		query["event_type"] = f.EventType
	}
	if f.StartTime != nil || f.EndTime != nil {
		timeQuery := bson.M{}
		if f.StartTime != nil {
			timeQuery["$gte"] = *f.StartTime
		}
		if f.EndTime != nil {
			timeQuery["$lte"] = *f.EndTime
		}
		query["created_at"] = timeQuery
	}
	return query
}

// Store manages audit event records.
type Store struct {
	c *mongo.Collection
}

// New creates a new audit Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := s.c.Find(ctx, filter.toBSON(), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CountByFilter returns the count of events matching the filter.
func (s *Store) CountByFilter(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, filter.toBSON())
}

// GetByAccount retrieves recent audit events for one account.
func (s *Store) GetByAccount(ctx context.Context, accountID primitive.ObjectID, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{AccountID: &accountID, Limit: limit})
}
