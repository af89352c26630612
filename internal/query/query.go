// Package query builds and runs the time-bounded reads and deletes on a
// pipe's table: sync times, backtrack windows, bounded data fetches,
// rowcounts, and clears.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"pipesync/internal/dialect"
	"pipesync/internal/pipemeta"
	"pipesync/internal/sqlexec"
)

// ErrMissingFetchDefinition is returned by remote rowcounts on pipes whose
// parameters carry no fetch definition.
var ErrMissingFetchDefinition = errors.New("pipe has no fetch definition")

// BuildWhere renders the params map as a WHERE clause with inline literals,
// " WHERE " prefix included, empty when the map is. Filter semantics:
//
//	col: v          col = v
//	col: "_v"       col != v
//	col: nil/"NaN"  col IS NULL
//	col: [a, "_b"]  col IN (a) AND col NOT IN (b)
//	col: ["_"]      col IS NOT NULL
//
// nil or "NaN" inside an include list widens it with OR col IS NULL.
func BuildWhere(d *dialect.Dialect, params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	cols := make([]string, 0, len(params))
	for col := range params {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var clauses []string
	for _, col := range cols {
		if clause := columnClause(d, col, params[col]); clause != "" {
			clauses = append(clauses, clause)
		}
	}
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func columnClause(d *dialect.Dialect, col string, val any) string {
	c := d.QuoteIdent(col)
	switch v := val.(type) {
	case nil:
		return c + " IS NULL"
	case []any:
		return listClause(d, c, v)
	case []string:
		vals := make([]any, len(v))
		for i, s := range v {
			vals[i] = s
		}
		return listClause(d, c, vals)
	case string:
		if v == "NaN" {
			return c + " IS NULL"
		}
		if strings.HasPrefix(v, "_") {
			return fmt.Sprintf("%s != %s", c, literal(d, v[1:]))
		}
		return fmt.Sprintf("%s = %s", c, literal(d, v))
	default:
		return fmt.Sprintf("%s = %s", c, literal(d, v))
	}
}

func listClause(d *dialect.Dialect, quotedCol string, vals []any) string {
	var include, exclude []any
	var includeNull, notNull bool
	for _, v := range vals {
		if v == nil {
			includeNull = true
			continue
		}
		if s, ok := v.(string); ok {
			switch {
			case s == "_":
				notNull = true
				continue
			case s == "NaN":
				includeNull = true
				continue
			case strings.HasPrefix(s, "_"):
				exclude = append(exclude, s[1:])
				continue
			}
		}
		include = append(include, v)
	}

	var terms []string
	switch {
	case len(include) > 0 && includeNull:
		terms = append(terms, fmt.Sprintf("(%s IN (%s) OR %s IS NULL)",
			quotedCol, literalList(d, include), quotedCol))
	case len(include) > 0:
		terms = append(terms, fmt.Sprintf("%s IN (%s)", quotedCol, literalList(d, include)))
	case includeNull:
		terms = append(terms, quotedCol+" IS NULL")
	}
	if len(exclude) > 0 {
		terms = append(terms, fmt.Sprintf("%s NOT IN (%s)", quotedCol, literalList(d, exclude)))
	}
	if notNull {
		terms = append(terms, quotedCol+" IS NOT NULL")
	}
	return strings.Join(terms, " AND ")
}

func literalList(d *dialect.Dialect, vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = literal(d, v)
	}
	return strings.Join(parts, ", ")
}

func literal(d *dialect.Dialect, v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case time.Time:
		return d.TimeLiteral(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(t), "'", "''") + "'"
	}
}

// SyncTime returns the newest (or oldest) timestamp in the pipe's table, nil
// when the pipe has no datetime column, the table is absent, or it is empty.
// roundDown truncates the result to the minute.
func SyncTime(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, params map[string]any, newest, roundDown bool) (*time.Time, error) {
	dtCol := pipe.Parameters.DatetimeColumn()
	if dtCol == "" {
		return nil, nil
	}
	exists, err := sqlexec.TableExists(ctx, db, pipe.Target())
	if err != nil || !exists {
		return nil, err
	}

	d := db.Dialect()
	order := d.QuoteIdent(dtCol) + " DESC"
	if !newest {
		order = d.QuoteIdent(dtCol) + " ASC"
	}
	query := d.TopOne(d.QuoteIdent(dtCol), pipe.Target(), BuildWhere(d, params), order)
	v, err := db.Value(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sync time for %s: %w", pipe, err)
	}
	if v == nil {
		return nil, nil
	}
	t, err := valueTime(d, v)
	if err != nil {
		return nil, fmt.Errorf("sync time for %s: %w", pipe, err)
	}
	if roundDown {
		t = t.Truncate(time.Minute)
	}
	return &t, nil
}

// Data fetches rows, begin inclusive and end exclusive, newest first when
// the pipe designates a datetime column.
func Data(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, begin, end *time.Time, params map[string]any) ([]sqlexec.Row, error) {
	d := db.Dialect()
	dtCol := pipe.Parameters.DatetimeColumn()

	where := boundedWhere(d, dtCol, begin, end, params)
	query := "SELECT * FROM " + d.QuoteIdent(pipe.Target()) + where
	if dtCol != "" {
		query += " ORDER BY " + d.QuoteIdent(dtCol) + " DESC"
	}
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get data for %s: %w", pipe, err)
	}
	return rows, nil
}

// BacktrackData fetches rows at or after (begin - minutes), defaulting begin
// to the pipe's newest sync time. The offset runs through the dialect's
// date-arithmetic so text-affinity flavors compare correctly.
func BacktrackData(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, minutes int, begin *time.Time, params map[string]any) ([]sqlexec.Row, error) {
	d := db.Dialect()
	dtCol := pipe.Parameters.DatetimeColumn()

	if begin == nil {
		st, err := SyncTime(ctx, db, pipe, nil, true, false)
		if err != nil {
			return nil, err
		}
		begin = st
	}

	var clauses []string
	if begin != nil && dtCol != "" {
		anchor := d.DateAdd("minute", -minutes, d.TimeLiteral(*begin))
		clauses = append(clauses, fmt.Sprintf("%s >= %s", d.QuoteIdent(dtCol), anchor))
	}
	where := combineWhere(d, clauses, params)

	query := "SELECT * FROM " + d.QuoteIdent(pipe.Target()) + where
	if dtCol != "" {
		query += " ORDER BY " + d.QuoteIdent(dtCol) + " DESC"
	}
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("backtrack data for %s: %w", pipe, err)
	}
	return rows, nil
}

// Rowcount counts rows in bounds. With remote true the count runs against
// the pipe's fetch definition instead of its table.
func Rowcount(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, begin, end *time.Time, params map[string]any, remote bool) (*int64, error) {
	d := db.Dialect()
	dtCol := pipe.Parameters.DatetimeColumn()
	where := boundedWhere(d, dtCol, begin, end, params)

	var query string
	if remote {
		definition := pipe.Parameters.FetchDefinition()
		if definition == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingFetchDefinition, pipe)
		}
		query = fmt.Sprintf("WITH src AS (%s) SELECT COUNT(*) FROM src%s", definition, where)
	} else {
		exists, err := sqlexec.TableExists(ctx, db, pipe.Target())
		if err != nil || !exists {
			return nil, err
		}
		query = "SELECT COUNT(*) FROM " + d.QuoteIdent(pipe.Target()) + where
	}

	v, err := db.Value(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rowcount for %s: %w", pipe, err)
	}
	n, err := valueInt64(v)
	if err != nil {
		return nil, fmt.Errorf("rowcount for %s: %w", pipe, err)
	}
	return &n, nil
}

// Clear deletes rows in bounds, begin inclusive and end exclusive. Absent
// tables are a no-op.
func Clear(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe, begin, end *time.Time, params map[string]any) error {
	exists, err := sqlexec.TableExists(ctx, db, pipe.Target())
	if err != nil || !exists {
		return err
	}
	d := db.Dialect()
	where := boundedWhere(d, pipe.Parameters.DatetimeColumn(), begin, end, params)
	query := "DELETE FROM " + d.QuoteIdent(pipe.Target()) + where
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("clear %s: %w", pipe, err)
	}
	return nil
}

// boundedWhere renders the standard begin-inclusive, end-exclusive window
// plus the params filter.
func boundedWhere(d *dialect.Dialect, dtCol string, begin, end *time.Time, params map[string]any) string {
	var clauses []string
	if dtCol != "" {
		if begin != nil {
			clauses = append(clauses, fmt.Sprintf("%s >= %s", d.QuoteIdent(dtCol), d.TimeLiteral(*begin)))
		}
		if end != nil {
			clauses = append(clauses, fmt.Sprintf("%s < %s", d.QuoteIdent(dtCol), d.TimeLiteral(*end)))
		}
	}
	return combineWhere(d, clauses, params)
}

func combineWhere(d *dialect.Dialect, clauses []string, params map[string]any) string {
	if paramsWhere := BuildWhere(d, params); paramsWhere != "" {
		clauses = append(clauses, strings.TrimPrefix(paramsWhere, " WHERE "))
	}
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func valueTime(d *dialect.Dialect, v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return d.ParseTime(t)
	case []byte:
		return d.ParseTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp value %T", v)
	}
}

func valueInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case []byte:
		var n int64
		if _, err := fmt.Sscan(string(t), &n); err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected count value %T", v)
	}
}
