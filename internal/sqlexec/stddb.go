package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pipesync/internal/dialect"
)

// stdDB adapts a database/sql handle to the DB interface. It backs the
// mssql, sqlite, and mysql executors; postgres-family uses pgx directly.
type stdDB struct {
	db *sql.DB
	d  *dialect.Dialect
}

func (s *stdDB) Dialect() *dialect.Dialect { return s.d }

func (s *stdDB) Close() { _ = s.db.Close() }

func (s *stdDB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, s.normalizeArgs(args)...)
	return err
}

func (s *stdDB) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, s.normalizeArgs(args)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		dests := make([]any, len(cols))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		rec := make(Row, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *stdDB) Value(ctx context.Context, query string, args ...any) (any, error) {
	rows, err := s.db.QueryContext(ctx, query, s.normalizeArgs(args)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	dests := make([]any, len(cols))
	for i := range vals {
		dests[i] = &vals[i]
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}
	return vals[0], nil
}

func (s *stdDB) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("bulk insert into %s: no columns", table)
	}

	chunk := rowsPerChunk(len(columns))
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		query := buildInsertQuery(s.d, table, columns, len(part))
		args := make([]any, 0, len(part)*len(columns))
		for _, row := range part {
			for j := range columns {
				args = append(args, s.normalizeArg(row[j]))
			}
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("bulk insert into %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(len(part))
		}
	}
	return total, nil
}

// normalizeArg converts bind values into the flavor's stored form. Flavors
// that keep timestamps as text (sqlite) must receive the catalog's canonical
// layout or range comparisons stop collating.
func (s *stdDB) normalizeArg(v any) any {
	if s.d.TimeLayout == "" {
		return v
	}
	if t, ok := v.(time.Time); ok {
		return s.d.FormatTime(t)
	}
	return v
}

func (s *stdDB) normalizeArgs(args []any) []any {
	if s.d.TimeLayout == "" {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = s.normalizeArg(a)
	}
	return out
}
