// internal/app/system/seeding/seeding.go
package seeding

import (
	"context"
	"errors"
	"fmt"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/system/authutil"
	"github.com/dalemusser/stratamind/internal/app/system/normalize"
	"github.com/dalemusser/stratamind/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Account describes an account to create at startup. An empty Email disables seeding.
type Account struct {
	Email    string
	Name     string
	Password string
}

// SeedAll seeds startup data if not already present.
func SeedAll(ctx context.Context, db *mongo.Database, acct Account, logger *zap.Logger) error {
	if acct.Email == "" {
		return nil
	}
	return seedAccount(ctx, db, acct, logger)
}

// seedAccount creates a verified account with a password. The second factor
// is enrolled on first login like every other account. An existing account
// with the same email is left untouched.
func seedAccount(ctx context.Context, db *mongo.Database, in Account, logger *zap.Logger) error {
	store := accountstore.New(db)
	email := normalize.Email(in.Email)

	_, err := store.GetByEmail(ctx, email)
	if err == nil {
		logger.Debug("seed account already exists", zap.String("email", email))
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("look up seed account: %w", err)
	}

	if err := authutil.ValidatePassword(in.Password); err != nil {
		return fmt.Errorf("seed account password: %w", err)
	}
	hash, err := authutil.HashPassword(in.Password)
	if err != nil {
		return err
	}

	name := in.Name
	if name == "" {
		name = "Administrator"
	}
	acct, err := store.Create(ctx, models.Account{Name: name, Email: email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, accountstore.ErrDuplicateEmail) {
			return nil
		}
		return fmt.Errorf("create seed account: %w", err)
	}
	if err := store.MarkEmailVerified(ctx, acct.ID); err != nil {
		return fmt.Errorf("verify seed account: %w", err)
	}

	logger.Info("created seed account",
		zap.String("email", email),
		zap.String("account_id", acct.ID.Hex()))
	return nil
}
