// Package repository holds the ledger's persistence layer: batches and their
// lifecycle audit trail, sequence counters, reservations, stock allocations,
// and repacking records.
package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// runner abstracts *sqlx.DB and *sqlx.Tx so repositories can participate in
// caller-owned transactions via WithTx.
type runner interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
