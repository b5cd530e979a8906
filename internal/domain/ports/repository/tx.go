package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle threaded through repository calls.
// Its concrete type is infra-defined (pgx.Tx for Postgres); repositories
// must gracefully accept nil and fall back to their non-transactional path.
type Tx interface{}

// NoTX marks the explicit non-transactional call sites.
var NoTX Tx

// TransactionManager executes a function inside a database transaction,
// passing the handle via `tx`. It keeps use-case code free of storage types
// while letting the engine make its two compound writes atomic: grant plus
// counter movement, and rule-edit plus beneficiary rewrite.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
