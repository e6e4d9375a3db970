// Package txn runs groups of MongoDB writes in a transaction when the
// deployment supports one, and plainly otherwise.
//
// A standalone mongod (the usual local and CI setup) rejects transactions, so
// Run retries the same function without one. Callers must therefore write fn
// so that running it outside a transaction is still correct, only less atomic.
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Func receives either a mongo.SessionContext or the caller's context.
type Func func(ctx context.Context) error

// Run executes fn inside a transaction if possible. log may be nil.
func Run(ctx context.Context, db *mongo.Database, log *zap.Logger, fn Func) error {
	session, err := db.Client().StartSession()
	if err != nil {
		warn(log, "failed to start session, running without transaction", err)
		return fn(ctx)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		warn(log, "transactions not supported, running without transaction", err)
		return fn(ctx)
	}
	return err
}

func warn(log *zap.Logger, msg string, err error) {
	if log != nil {
		log.Debug(msg, zap.Error(err))
	}
}

// notSupportedCodes are server codes meaning "no transactions here":
// 20 (not a replica set member), 51 (IllegalOperation), 263 (op not allowed in txn).
var notSupportedCodes = map[int32]bool{20: true, 51: true, 263: true}

var notSupportedKeywords = []string{
	"transaction",
	"replica set",
	"session",
	"not supported",
	"illegal operation",
}

// IsNotSupported reports whether err means the deployment cannot run
// multi-document transactions.
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && notSupportedCodes[ce.Code] {
		return true
	}

	// Message matching needs two keywords so unrelated errors that merely
	// mention "session" do not trigger a silent fallback.
	msg := strings.ToLower(err.Error())
	hits := 0
	for _, kw := range notSupportedKeywords {
		if strings.Contains(msg, kw) {
			hits++
		}
	}
	return hits >= 2
}
