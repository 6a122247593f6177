package repository

import (
	"context"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager provides a thin abstraction to execute a function within a
// database transaction, passing the underlying transaction handle via `tx`.
//
// USAGE
// tm.WithTx(ctx, func(ctx context.Context, tx Tx) error {
// // call repositories with the same ctx and tx
// s, err := sessions.FindByID(ctx, tx, id)
// ...
// return err
// })
//
// The concrete type of `tx` is infra-defined (pgx.Tx for Postgres, *sql.Tx for
// SQLite). Repositories MUST gracefully accept `nil` (non-transactional path).
//
// Keep this interface small and stable.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
