// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	accountstore "github.com/dalemusser/stratamind/internal/app/store/accounts"
	"github.com/dalemusser/stratamind/internal/app/store/audit"
	"github.com/dalemusser/stratamind/internal/app/store/challenges"
	"github.com/dalemusser/stratamind/internal/app/store/emailverify"
	"github.com/dalemusser/stratamind/internal/app/store/passwordreset"
	"github.com/dalemusser/stratamind/internal/app/store/ratelimit"
	"github.com/dalemusser/stratamind/internal/app/store/sessions"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// collectionDef is a collection the service writes to, with an optional
// JSON-Schema validator.
type collectionDef struct {
	name   string
	schema func() bson.M
}

var collections = []collectionDef{
	{accountstore.CollectionName, accountsSchema},
	{challenges.CollectionName, challengesSchema},
	{sessions.CollectionName, sessionsSchema},
	{emailverify.CollectionName, nil},
	{passwordreset.CollectionName, nil},
	{ratelimit.CollectionName, nil},
	{audit.CollectionName, nil},
}

// EnsureAll creates collections (if missing) and tries to attach JSON-Schema
// validators. On servers that don't support collMod/validators (e.g. some
// DocumentDB versions), we log and skip gracefully.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	for _, c := range collections {
		if _, err := ensureCollection(ctx, db, c.name); err != nil {
			problems = append(problems, c.name+": "+err.Error())
			continue
		}
		if c.schema == nil {
			continue
		}
		if err := setValidator(ctx, db, c.name, c.schema()); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", c.name))
				continue
			}
			problems = append(problems, c.name+": "+err.Error())
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

// collectionExists returns true when <name> already exists.
func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	if exists, err := collectionExists(ctx, db, name); err == nil && exists {
		zap.L().Debug("collection exists", zap.String("collection", name))
		return false, nil
	}
	// Listing failed or the collection is missing; a concurrent creator is fine.
	if err := db.CreateCollection(ctx, name); err != nil {
		if isNamespaceExistsErr(err) {
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

// matchesCommandError reports whether err is a CommandError with one of codes,
// or carries one of the phrases in its message.
func matchesCommandError(err error, codes []int32, phrases ...string) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		for _, c := range codes {
			if ce.Code == c {
				return true
			}
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isNamespaceExistsErr(err error) bool {
	return matchesCommandError(err, []int32{48}, "already exists", "namespace exists")
}

func isNoSuchCommand(err error) bool {
	return matchesCommandError(err, []int32{59}, "no such command")
}

func isNotImplemented(err error) bool {
	return matchesCommandError(err, []int32{115}, "not implemented", "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

func accountsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "email", "email_ci", "password_hash", "second_factor_enabled", "created_at"},
			"properties": bson.M{
				"name":                  bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"email":                 bson.M{"bsonType": "string", "minLength": 3, "pattern": "^[^@\\s]+@[^@\\s]+$"},
				"email_ci":              bson.M{"bsonType": "string", "minLength": 3},
				"password_hash":         bson.M{"bsonType": "string", "minLength": 1},
				"email_verified_at":     bson.M{"bsonType": bson.A{"date", "null"}},
				"second_factor_enabled": bson.M{"bsonType": "bool"},
				"second_factor_secret":  bson.M{"bsonType": "string"},
			},
		},
	}
}

// challengesSchema requires every challenge to carry a secret and an expiry,
// so a record that could never be redeemed is rejected at write time.
func challengesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"token", "account_id", "secret", "enrollment", "verified", "created_at", "expires_at"},
			"properties": bson.M{
				"token":      bson.M{"bsonType": "string", "minLength": 16},
				"account_id": bson.M{"bsonType": "objectId"},
				"secret":     bson.M{"bsonType": "string", "minLength": 1},
				"enrollment": bson.M{"bsonType": "bool"},
				"verified":   bson.M{"bsonType": "bool"},
				"created_at": bson.M{"bsonType": "date"},
				"expires_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func sessionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"session_id", "token", "account_id", "expires_at"},
			"properties": bson.M{
				"session_id": bson.M{"bsonType": "string", "minLength": 1},
				"token":      bson.M{"bsonType": "string", "minLength": 1},
				"account_id": bson.M{"bsonType": "objectId"},
				"expires_at": bson.M{"bsonType": "date"},
			},
		},
	}
}
