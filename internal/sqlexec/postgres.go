package sqlexec

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pipesync/internal/dialect"
)

// pgDB backs the postgres family (postgres, timescaledb, citus) with a pgx
// pool. Bulk writes use native COPY when the catalog selects it.
type pgDB struct {
	pool *pgxpool.Pool
	d    *dialect.Dialect
}

func openPostgres(ctx context.Context, d *dialect.Dialect, dsn string) (DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgDB{pool: pool, d: d}, nil
}

func (p *pgDB) Dialect() *dialect.Dialect { return p.d }

func (p *pgDB) Close() { p.pool.Close() }

func (p *pgDB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := p.pool.Exec(ctx, query, args...)
	return err
}

func (p *pgDB) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rec := make(Row, len(fields))
		for i, f := range fields {
			rec[f.Name] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *pgDB) Value(ctx context.Context, query string, args ...any) (any, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	vals, err := rows.Values()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals[0], nil
}

func (p *pgDB) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if p.d.Bulk == dialect.BulkCopy {
		n, err := p.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, fmt.Errorf("copy into %s: %w", table, err)
		}
		return n, nil
	}

	chunk := rowsPerChunk(len(columns))
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		query := buildInsertQuery(p.d, table, columns, len(part))
		args := make([]any, 0, len(part)*len(columns))
		for _, row := range part {
			args = append(args, row...)
		}
		tag, err := p.pool.Exec(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("bulk insert into %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
