// Package sqlexec is the engine's SQL execution boundary: a small
// dialect-tagged interface over the real drivers, one implementation per
// driver family. The sync engine never talks to a driver directly.
package sqlexec

import (
	"context"
	"fmt"

	"pipesync/internal/dialect"
)

// Row is one result record, keyed by column name.
type Row = map[string]any

// DB is the generic SQL execution capability the engine consumes.
//
// Query is intended for small result sets (introspection, in-bound existing
// rows); it materializes everything. Value returns the first column of the
// first row, or nil when the query yields no rows.
type DB interface {
	Dialect() *dialect.Dialect

	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Value(ctx context.Context, query string, args ...any) (any, error)

	// BulkInsert appends rows to table using the dialect's preferred bulk
	// method. Rows must align with columns.
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	Close()
}

// Open constructs a DB for the flavor. Construction is explicit: the caller
// owns the lifecycle, and there are no process-wide driver registries beyond
// database/sql's own.
func Open(ctx context.Context, flavor dialect.Flavor, dsn string) (DB, error) {
	d, err := dialect.Lookup(flavor)
	if err != nil {
		return nil, err
	}

	switch flavor {
	case dialect.Postgres, dialect.TimescaleDB, dialect.Citus:
		return openPostgres(ctx, d, dsn)
	case dialect.MSSQL:
		return openMSSQL(ctx, d, dsn)
	case dialect.SQLite:
		return openSQLite(ctx, d, dsn)
	case dialect.MySQL:
		return openMySQL(ctx, d, dsn)
	default:
		return nil, fmt.Errorf("no driver available for dialect %q", flavor)
	}
}

// ExecAll runs statements in order and stops at the first failure. Used for
// ordered DDL sequences (reconcile, index plans) whose partial execution
// must abort.
func ExecAll(ctx context.Context, db DB, queries []string) error {
	for _, q := range queries {
		if q == "" {
			continue
		}
		if err := db.Exec(ctx, q); err != nil {
			return fmt.Errorf("exec %q: %w", q, err)
		}
	}
	return nil
}

// TableExists checks whether a table exists via the dialect's introspection
// template.
func TableExists(ctx context.Context, db DB, table string) (bool, error) {
	v, err := db.Value(ctx, db.Dialect().TableExistsQuery(table))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}
