// Package dialect is the capability catalog for the SQL flavors the sync
// engine can target. A Dialect is a pure lookup structure: type mappings,
// identifier quoting, date arithmetic, index/hypertable statement templates,
// and the preferred bulk-write method. Nothing in this package performs I/O.
package dialect

import (
	"errors"
	"fmt"
	"time"
)

// Flavor names a supported database technology.
type Flavor string

const (
	Postgres    Flavor = "postgres"
	TimescaleDB Flavor = "timescaledb"
	Citus       Flavor = "citus"
	MSSQL       Flavor = "mssql"
	SQLite      Flavor = "sqlite"
	DuckDB      Flavor = "duckdb"
	MySQL       Flavor = "mysql"
	Oracle      Flavor = "oracle"
)

// ErrUnsupportedDialect is returned by Lookup for unknown flavors.
// There is intentionally no fallback dialect.
var ErrUnsupportedDialect = errors.New("unsupported dialect")

// BulkMethod selects how row batches are written.
type BulkMethod string

const (
	// BulkCopy uses the driver's native bulk copy (pgx CopyFrom).
	BulkCopy BulkMethod = "copy"
	// BulkBatch uses chunked multi-row parameterized INSERTs.
	BulkBatch BulkMethod = "batch"
)

// PlaceholderStyle is the bind-parameter syntax of a flavor.
type PlaceholderStyle int

const (
	PlaceholderDollar   PlaceholderStyle = iota // $1, $2, ...
	PlaceholderQuestion                         // ?, ?, ...
	PlaceholderAt                               // @p1, @p2, ...
	PlaceholderColon                            // :1, :2, ...
)

// Dialect is one flavor's capability table. Fields are data, not behavior:
// the statement-template methods in sql.go branch on them so that adding a
// flavor means adding a table entry, not another string-comparison chain.
type Dialect struct {
	Flavor Flavor

	SupportsNullsFirst        bool
	SupportsHypertables       bool
	SupportsDistributedTables bool

	// AddColumnRebuildsIndexes marks flavors where ALTER TABLE ADD COLUMN
	// invalidates existing indices, so the reconciler must drop and recreate
	// them around the ALTER.
	AddColumnRebuildsIndexes bool

	Bulk        BulkMethod
	Placeholder PlaceholderStyle

	// TimeLayout, when non-empty, is the text layout timestamps are stored
	// and compared in (flavors without a real timestamp type). Empty means
	// the driver binds time.Time natively.
	TimeLayout string

	nativeTypes   map[Type]string
	quoteOpen     string
	quoteClose    string
	autoIncPK     string // fmt template, %s = quoted column name
	dateAddFormat dateAddStyle
}

type dateAddStyle int

const (
	dateAddInterval dateAddStyle = iota // CAST(x AS TIMESTAMP) + INTERVAL 'n part'
	dateAddFunc                         // DATEADD(part, n, CAST(x AS DATETIME))
	dateAddModifier                     // DATETIME(x, 'n parts')
	dateAddMySQL                        // DATE_ADD(x, INTERVAL n part)
	dateAddOracle                       // CAST(x AS TIMESTAMP) + NUMTODSINTERVAL(n, 'PART')
)

// Lookup returns the catalog entry for a flavor, or ErrUnsupportedDialect.
func Lookup(f Flavor) (*Dialect, error) {
	d, ok := catalog[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, f)
	}
	return d, nil
}

// QuoteIdent quotes a SQL identifier for this flavor.
func (d *Dialect) QuoteIdent(name string) string {
	return d.quoteOpen + name + d.quoteClose
}

// NativeType maps a logical type to this flavor's native column type.
func (d *Dialect) NativeType(t Type) string {
	if nt, ok := d.nativeTypes[t]; ok {
		return nt
	}
	return d.nativeTypes[TypeText]
}

// JSONColumnType is the native type backing JSON documents (the pipes
// metadata table's parameters column).
func (d *Dialect) JSONColumnType() string { return d.NativeType(TypeJSON) }

// AutoIncrementPK renders the primary-key column definition for the pipes
// metadata table.
func (d *Dialect) AutoIncrementPK(col string) string {
	return fmt.Sprintf(d.autoIncPK, d.QuoteIdent(col))
}

// FormatTime renders t the way this flavor stores it. Flavors with a native
// timestamp type use a portable literal form; text-affinity flavors use
// their storage layout so that literals and stored values collate correctly.
func (d *Dialect) FormatTime(t time.Time) string {
	layout := d.TimeLayout
	if layout == "" {
		layout = "2006-01-02 15:04:05"
	}
	return t.UTC().Format(layout)
}

// ParseTime parses a stored timestamp string for this flavor. Several layouts
// are attempted because drivers differ in what they hand back for text
// columns.
func (d *Dialect) ParseTime(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	}
	if d.TimeLayout != "" {
		layouts = append([]string{d.TimeLayout}, layouts...)
	}
	var firstErr error
	for _, l := range layouts {
		t, err := time.ParseInLocation(l, s, time.UTC)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// TimeLiteral renders t as an inline SQL literal.
func (d *Dialect) TimeLiteral(t time.Time) string {
	lit := "'" + d.FormatTime(t) + "'"
	switch d.dateAddFormat {
	case dateAddInterval, dateAddOracle:
		return "CAST(" + lit + " AS TIMESTAMP)"
	default:
		return lit
	}
}

// DateAdd builds a date-offset SQL expression. anchor must already be a
// valid SQL expression (a quoted column or a literal from TimeLiteral).
func (d *Dialect) DateAdd(part string, amount int, anchor string) string {
	switch d.dateAddFormat {
	case dateAddFunc:
		return fmt.Sprintf("DATEADD(%s, %d, CAST(%s AS DATETIME))", part, amount, anchor)
	case dateAddModifier:
		return fmt.Sprintf("DATETIME(%s, '%d %ss')", anchor, amount, part)
	case dateAddMySQL:
		return fmt.Sprintf("DATE_ADD(%s, INTERVAL %d %s)", anchor, amount, part)
	case dateAddOracle:
		return fmt.Sprintf("%s + NUMTODSINTERVAL(%d, '%s')", anchor, amount, part)
	default:
		return fmt.Sprintf("%s + INTERVAL '%d %s'", anchor, amount, part)
	}
}

// Placeholder renders the n-th (1-based) bind parameter.
func (d *Dialect) PlaceholderN(n int) string {
	switch d.Placeholder {
	case PlaceholderDollar:
		return fmt.Sprintf("$%d", n)
	case PlaceholderAt:
		return fmt.Sprintf("@p%d", n)
	case PlaceholderColon:
		return fmt.Sprintf(":%d", n)
	default:
		return "?"
	}
}
