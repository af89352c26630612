// Package schema keeps a pipe's data table in step with the columns its
// batches carry. Columns are only ever added; nothing here drops or retypes
// an existing column.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"pipesync/internal/dialect"
	"pipesync/internal/pipemeta"
	"pipesync/internal/sqlexec"
)

// LiveColumns introspects the table's current columns as a map of column
// name to native type string. The result is empty, not an error, when the
// table has no rows in the catalog.
func LiveColumns(ctx context.Context, db sqlexec.DB, table string) (map[string]string, error) {
	d := db.Dialect()
	rows, err := db.Query(ctx, d.ColumnsQuery(table))
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		name := firstString(row, "name", "column_name", "COLUMN_NAME")
		typ := firstString(row, "type", "data_type", "DATA_TYPE")
		if name == "" {
			continue
		}
		out[name] = typ
	}
	return out, nil
}

// firstString returns the first present key's value as a string. PRAGMA
// table_info, information_schema and all_tab_columns all spell the column
// headers differently.
func firstString(row sqlexec.Row, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			switch t := v.(type) {
			case string:
				return t
			case []byte:
				return string(t)
			default:
				return fmt.Sprint(t)
			}
		}
	}
	return ""
}

// InferType maps a Go value from an incoming batch onto a logical column
// type. nil carries no information and falls back to text.
func InferType(v any) dialect.Type {
	switch t := v.(type) {
	case nil:
		return dialect.TypeText
	case bool:
		return dialect.TypeBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return dialect.TypeInteger
	case float32, float64:
		return dialect.TypeFloat
	case time.Time, *time.Time:
		return dialect.TypeTimestamp
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return dialect.TypeInteger
		}
		return dialect.TypeFloat
	case map[string]any, []any:
		return dialect.TypeJSON
	default:
		return dialect.TypeText
	}
}

// InferColumns derives the union schema of a batch. The first non-nil value
// seen for each column decides its type; the designated datetime column is
// always a timestamp regardless of how the batch encodes it.
func InferColumns(batch []sqlexec.Row, datetimeCol string) map[string]dialect.Type {
	out := make(map[string]dialect.Type)
	typed := make(map[string]bool)
	for _, row := range batch {
		for col, v := range row {
			if typed[col] {
				continue
			}
			if v == nil {
				// Remember the column; a later row may still type it.
				if _, seen := out[col]; !seen {
					out[col] = dialect.TypeText
				}
				continue
			}
			out[col] = InferType(v)
			typed[col] = true
		}
	}
	if datetimeCol != "" {
		if _, ok := out[datetimeCol]; ok {
			out[datetimeCol] = dialect.TypeTimestamp
		}
	}
	return out
}

// CreateTableQuery builds the first-write DDL for a batch-inferred schema.
// Columns come out sorted so the statement is deterministic.
func CreateTableQuery(d *dialect.Dialect, table string, cols map[string]dialect.Type) string {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]string, 0, len(names))
	for _, name := range names {
		defs = append(defs, d.QuoteIdent(name)+" "+d.NativeType(cols[name]))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdent(table), strings.Join(defs, ", "))
}

// AddColumnQueries compares the live table against the batch and returns the
// statements that bring the table up to the batch's column set, in execution
// order. Returns nil when the table does not exist yet (the first write
// creates it whole) or when there is nothing to add.
func AddColumnQueries(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, batch []sqlexec.Row) ([]string, error) {
	target := pipe.Target()
	exists, err := sqlexec.TableExists(ctx, db, target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	live, err := LiveColumns(ctx, db, target)
	if err != nil {
		return nil, err
	}
	inferred := InferColumns(batch, pipe.Parameters.DatetimeColumn())
	return addColumnStatements(db.Dialect(), pipe, live, inferred), nil
}

// addColumnStatements is the pure planning half of AddColumnQueries. For
// dialects where ALTER TABLE invalidates indexes, every pipe index is
// dropped before the ALTERs and recreated after them; the caller executes
// the list in order and aborts on the first failure.
func addColumnStatements(d *dialect.Dialect, pipe pipemeta.Pipe, live map[string]string, inferred map[string]dialect.Type) []string {
	have := make(map[string]bool, len(live))
	for name := range live {
		have[strings.ToLower(name)] = true
	}

	var missing []string
	for name := range inferred {
		if !have[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	target := pipe.Target()
	alters := make([]string, 0, len(missing))
	for _, name := range missing {
		alters = append(alters, addColumnQuery(d, target, name, inferred[name]))
	}
	if !d.AddColumnRebuildsIndexes {
		return alters
	}

	roles := indexRoles(pipe)
	queries := make([]string, 0, len(alters)+2*len(roles))
	for _, role := range roles {
		queries = append(queries, d.DropIndexQuery(pipe.Parameters.IndexName(role, target), target))
	}
	queries = append(queries, alters...)
	for _, role := range roles {
		col := pipe.Parameters.Columns()[role]
		queries = append(queries, d.CreateIndexQuery(pipe.Parameters.IndexName(role, target), target, col))
	}
	return queries
}

func addColumnQuery(d *dialect.Dialect, table, column string, t dialect.Type) string {
	keyword := "ADD COLUMN"
	switch d.Flavor {
	case dialect.MSSQL, dialect.Oracle:
		keyword = "ADD"
	}
	return fmt.Sprintf("ALTER TABLE %s %s %s %s",
		d.QuoteIdent(table), keyword, d.QuoteIdent(column), d.NativeType(t))
}

// indexRoles lists the pipe's indexed column roles in a stable order.
func indexRoles(pipe pipemeta.Pipe) []string {
	cols := pipe.Parameters.Columns()
	roles := make([]string, 0, len(cols))
	for role, col := range cols {
		if col == "" {
			continue
		}
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
