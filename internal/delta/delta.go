// Package delta partitions an incoming batch against the rows already in a
// pipe's table, so that a sync writes only what is genuinely new or changed.
package delta

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"pipesync/internal/dialect"
	"pipesync/internal/pipemeta"
	"pipesync/internal/sqlexec"
)

// Result is a batch partition. Delta is Unseen followed by Update; rows that
// matched an existing row exactly appear in none of the three.
type Result struct {
	Unseen []sqlexec.Row
	Update []sqlexec.Row
	Delta  []sqlexec.Row
}

// FilterExisting partitions the batch against the pipe's table, fetching
// only rows inside the batch's own timestamp bounds (or the caller's begin
// and end when given). The row key is every batch column except the pipe's
// value columns; two rows with equal keys and equal values are the same row.
//
// With checkExisting false, or when the table does not exist, the whole
// batch is unseen and nothing is fetched. Syncing an identical batch twice
// therefore writes zero rows the second time.
func FilterExisting(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, batch []sqlexec.Row, begin, end *time.Time, checkExisting bool) (Result, error) {
	if len(batch) == 0 {
		return Result{}, nil
	}

	passthrough := Result{Unseen: batch, Delta: batch}
	if !checkExisting {
		return passthrough, nil
	}
	exists, err := sqlexec.TableExists(ctx, db, pipe.Target())
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return passthrough, nil
	}

	d := db.Dialect()
	existing, err := fetchExisting(ctx, db, pipe, batch, begin, end)
	if err != nil {
		return Result{}, err
	}

	keyCols, valueCols := splitColumns(batch, pipe.Parameters.ValueColumns())

	index := make(map[string]sqlexec.Row, len(existing))
	for _, row := range existing {
		index[rowKey(d, row, keyCols)] = row
	}

	var res Result
	for _, row := range batch {
		old, seen := index[rowKey(d, row, keyCols)]
		switch {
		case !seen:
			res.Unseen = append(res.Unseen, row)
		case !valuesEqual(d, row, old, valueCols):
			res.Update = append(res.Update, row)
		}
	}
	res.Delta = append(append([]sqlexec.Row{}, res.Unseen...), res.Update...)
	return res, nil
}

// fetchExisting reads the stored rows overlapping the batch's time window.
// Without a datetime column the whole table is the window.
func fetchExisting(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, batch []sqlexec.Row, begin, end *time.Time) ([]sqlexec.Row, error) {
	d := db.Dialect()
	dtCol := pipe.Parameters.DatetimeColumn()

	var clauses []string
	if dtCol != "" {
		lo, hi := batchBounds(d, batch, dtCol)
		if begin != nil {
			lo = begin
		}
		if end != nil {
			hi = end
		}
		if lo != nil {
			clauses = append(clauses, fmt.Sprintf("%s >= %s", d.QuoteIdent(dtCol), d.TimeLiteral(*lo)))
		}
		if hi != nil {
			clauses = append(clauses, fmt.Sprintf("%s <= %s", d.QuoteIdent(dtCol), d.TimeLiteral(*hi)))
		}
	}

	query := "SELECT * FROM " + d.QuoteIdent(pipe.Target())
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch existing rows for %s: %w", pipe, err)
	}
	return rows, nil
}

// batchBounds finds the min and max timestamp the batch itself carries.
func batchBounds(d *dialect.Dialect, batch []sqlexec.Row, dtCol string) (lo, hi *time.Time) {
	for _, row := range batch {
		t, ok := asTime(d, row[dtCol])
		if !ok {
			continue
		}
		if lo == nil || t.Before(*lo) {
			tt := t
			lo = &tt
		}
		if hi == nil || t.After(*hi) {
			tt := t
			hi = &tt
		}
	}
	return lo, hi
}

// splitColumns derives the key and value column sets from the batch's column
// union. Every column the batch carries that is not a designated value
// column is part of the key.
func splitColumns(batch []sqlexec.Row, valueCols []string) (keys, values []string) {
	isValue := make(map[string]bool, len(valueCols))
	for _, c := range valueCols {
		isValue[c] = true
	}

	seen := make(map[string]bool)
	for _, row := range batch {
		for col := range row {
			if seen[col] {
				continue
			}
			seen[col] = true
			if isValue[col] {
				values = append(values, col)
			} else {
				keys = append(keys, col)
			}
		}
	}
	sort.Strings(keys)
	sort.Strings(values)
	return keys, values
}

// KeyColumns is the exported form of the key-side split, used by the sync
// orchestrator to build the staged-update join.
func KeyColumns(batch []sqlexec.Row, pipe pipemeta.Pipe) (keys, values []string) {
	return splitColumns(batch, pipe.Parameters.ValueColumns())
}

func rowKey(d *dialect.Dialect, row sqlexec.Row, keyCols []string) string {
	parts := make([]string, len(keyCols))
	for i, col := range keyCols {
		parts[i] = canonical(d, row[col])
	}
	return strings.Join(parts, "\x1f")
}

func valuesEqual(d *dialect.Dialect, a, b sqlexec.Row, valueCols []string) bool {
	for _, col := range valueCols {
		if canonical(d, a[col]) != canonical(d, b[col]) {
			return false
		}
	}
	return true
}

// canonical folds a value into a comparable text form, so that the batch's
// Go values and the driver's scanned representations compare equal:
// time.Time equals its stored text, 5.2 equals "5.2", true equals 1.
func canonical(d *dialect.Dialect, v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04:05")
	case *time.Time:
		if t == nil {
			return "\x00"
		}
		return t.UTC().Format("2006-01-02 15:04:05")
	case []byte:
		return canonicalString(d, string(t))
	case string:
		return canonicalString(d, t)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func canonicalString(d *dialect.Dialect, s string) string {
	if ts, err := d.ParseTime(s); err == nil {
		return ts.UTC().Format("2006-01-02 15:04:05")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}

func asTime(d *dialect.Dialect, v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		ts, err := d.ParseTime(t)
		return ts, err == nil
	case []byte:
		ts, err := d.ParseTime(string(t))
		return ts, err == nil
	default:
		return time.Time{}, false
	}
}
