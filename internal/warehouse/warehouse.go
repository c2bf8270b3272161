// Package warehouse executes SQL against the columnar analytics
// warehouse and provides the explicit transaction boundaries that
// protect readers from partially-ingested partitions.
package warehouse

import (
	"context"
	"time"
)

// Gateway executes statements and scalar queries against the warehouse.
// It is the only path to the warehouse; jobs never hold a raw
// connection. Implementations: the DuckDB-backed DB in this package and
// the statement-recording fake used by engine tests.
type Gateway interface {
	// Execute runs a statement with no return value.
	Execute(ctx context.Context, stmt string, args ...any) error

	// ScalarDay runs a query expected to return at most one day-typed
	// value. ok is false when no row or a NULL comes back.
	ScalarDay(ctx context.Context, query string, args ...any) (day string, ok bool, err error)

	// ScalarTime runs a query expected to return at most one timestamp.
	ScalarTime(ctx context.Context, query string, args ...any) (t time.Time, ok bool, err error)

	// Exists reports whether the query returns at least one row.
	Exists(ctx context.Context, query string, args ...any) (bool, error)

	// BulkLoadCSV loads a CSV object from the given storage URI into
	// the named table. Not retried: a malformed source must surface,
	// not silently leave a permanent gap.
	BulkLoadCSV(ctx context.Context, table string, columns []string, uri string) error

	// InTransaction runs body inside one transaction. On error the
	// transaction is rolled back and the error propagates; on success
	// it is committed. Nested transactions are not supported.
	InTransaction(ctx context.Context, body func(tx Gateway) error) error

	// Compact reclaims storage for a table after a commit. Runs outside
	// any transaction; failures are reported as non-fatal
	// CompactionFailure errors.
	Compact(ctx context.Context, table string) error
}
