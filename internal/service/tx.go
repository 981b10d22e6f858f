package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/scholarship-api/pkg/database"
)

// runInTx executes fn inside a transaction when db is set, otherwise against the
// repositories' default connection.
func runInTx(ctx context.Context, db database.TxBeginner, fn func(exec sqlx.ExtContext) error) error {
	if db == nil {
		return fn(nil)
	}
	return database.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		return fn(tx)
	})
}
