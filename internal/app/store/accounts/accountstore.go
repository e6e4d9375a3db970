// internal/app/store/accounts/accountstore.go
package accountstore

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: The MongoDB ObjectID (_id) that uniquely identifies an account
//   - Email / email: The human-readable address users type to log in (stored lowercase, unique)

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/stratamind/internal/app/system/normalize"
	"github.com/dalemusser/stratamind/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding accounts.
const CollectionName = "accounts"

var (
	// ErrDuplicateEmail is returned when attempting to create an account with an email that already exists.
	ErrDuplicateEmail = errors.New("an account with this email already exists")

	// ErrAlreadyEnrolled is returned by EnableSecondFactor when the account already
	// has a confirmed second-factor secret.
	ErrAlreadyEnrolled = errors.New("second factor already enabled")

	errMissingEmail = errors.New("email is required")
	errMissingHash  = errors.New("password hash is required")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// GetByID loads an account by ObjectID. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	var a models.Account
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail looks up an account by case/diacritic-insensitive email. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	folded := text.Fold(normalize.Email(email))
	if err := s.c.FindOne(ctx, bson.M{"email_ci": folded}).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new account after normalizing fields.
// The account starts with an unverified email and no second factor.
func (s *Store) Create(ctx context.Context, a models.Account) (models.Account, error) {
	a.ID = primitive.NewObjectID()
	a.Name = normalize.Name(a.Name)
	a.Email = normalize.Email(a.Email)
	a.EmailCI = text.Fold(a.Email)
	a.SecondFactorSecret = ""
	a.SecondFactorEnabled = false
	a.SecondFactorSince = nil

	if a.Email == "" {
		return models.Account{}, errMissingEmail
	}
	if a.PasswordHash == "" {
		return models.Account{}, errMissingHash
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, a); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Account{}, ErrDuplicateEmail
		}
		return models.Account{}, err
	}
	return a, nil
}

// MarkEmailVerified stamps the account's email as verified. Already-verified
// accounts keep their original timestamp.
func (s *Store) MarkEmailVerified(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "email_verified_at": nil},
		bson.M{"$set": bson.M{"email_verified_at": now, "updated_at": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either missing or already verified; distinguish for the caller.
		n, err := s.c.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if n == 0 {
			return mongo.ErrNoDocuments
		}
	}
	return nil
}

// EnableSecondFactor persists the confirmed secret and flips second_factor_enabled.
//
// The update only matches accounts that are not yet enrolled, so concurrent
// enrollments cannot overwrite each other: the first writer wins and everyone
// else gets ErrAlreadyEnrolled.
func (s *Store) EnableSecondFactor(ctx context.Context, id primitive.ObjectID, sealedSecret string) error {
	if sealedSecret == "" {
		return errors.New("second factor secret is empty")
	}
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "second_factor_enabled": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"second_factor_secret":  sealedSecret,
			"second_factor_enabled": true,
			"second_factor_since":   now,
			"updated_at":            now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := s.c.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return err
		}
		if n == 0 {
			return mongo.ErrNoDocuments
		}
		return ErrAlreadyEnrolled
	}
	return nil
}

// UpdatePassword replaces the password hash for an account.
// Returns mongo.ErrNoDocuments if the account does not exist.
func (s *Store) UpdatePassword(ctx context.Context, id primitive.ObjectID, passwordHash string) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"password_hash": passwordHash, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// ProfileUpdate holds the editable account fields. Empty values keep what is stored.
type ProfileUpdate struct {
	Name  string
	Email string
}

// UpdateProfile applies u and returns the updated account. A changed email
// clears email_verified_at; emailChanged reports that case. Returns
// ErrDuplicateEmail if the new address belongs to another account and
// mongo.ErrNoDocuments if the account does not exist.
func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, u ProfileUpdate) (acct *models.Account, emailChanged bool, err error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if name := normalize.Name(u.Name); name != "" && name != current.Name {
		set["name"] = name
	}
	if email := normalize.Email(u.Email); email != "" && email != current.Email {
		set["email"] = email
		set["email_ci"] = text.Fold(email)
		set["email_verified_at"] = nil
		emailChanged = true
	}
	var a models.Account
	err = s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&a)
	if err != nil {
		if wafflemongo.IsDup(err) {
			return nil, false, ErrDuplicateEmail
		}
		return nil, false, err
	}
	return &a, emailChanged, nil
}
