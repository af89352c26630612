package dialect

import (
	"fmt"
	"strings"
)

// CreateIndexQuery builds a plain b-tree index statement.
func (d *Dialect) CreateIndexQuery(index, table, column string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		d.QuoteIdent(index), d.QuoteIdent(table), d.QuoteIdent(column))
}

// DropIndexQuery builds a drop-index statement. MSSQL and MySQL scope
// indexes to the table; the rest drop them globally.
func (d *Dialect) DropIndexQuery(index, table string) string {
	switch d.Flavor {
	case MSSQL:
		return fmt.Sprintf("DROP INDEX %s ON %s", d.QuoteIdent(index), d.QuoteIdent(table))
	case MySQL:
		return fmt.Sprintf("DROP INDEX %s ON %s", d.QuoteIdent(index), d.QuoteIdent(table))
	default:
		return fmt.Sprintf("DROP INDEX %s", d.QuoteIdent(index))
	}
}

// HypertableQuery builds the time-partitioned table conversion. spaceColumn
// and spaceCount add space partitioning by an identity column; spaceCount may
// be nil when the distinct-value count is unknown (table not yet populated).
func (d *Dialect) HypertableQuery(table, timeColumn, spaceColumn string, spaceCount *int64) string {
	if !d.SupportsHypertables {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT create_hypertable('%s', '%s', ", d.QuoteIdent(table), timeColumn)
	if spaceColumn != "" {
		count := "NULL"
		if spaceCount != nil {
			count = fmt.Sprintf("%d", *spaceCount)
		}
		fmt.Fprintf(&b, "'%s', %s, ", spaceColumn, count)
	}
	b.WriteString("migrate_data => true)")
	return b.String()
}

// IsHypertableQuery introspects whether a table is already a hypertable.
// Empty for flavors without hypertables; callers treat that as "no".
func (d *Dialect) IsHypertableQuery(table string) string {
	if !d.SupportsHypertables {
		return ""
	}
	return fmt.Sprintf(
		"SELECT hypertable_name FROM timescaledb_information.hypertables WHERE hypertable_name = '%s'",
		table,
	)
}

// DistributedTableQuery builds the sharded-table conversion for flavors with
// native distribution.
func (d *Dialect) DistributedTableQuery(table, column string) string {
	if !d.SupportsDistributedTables {
		return ""
	}
	return fmt.Sprintf("SELECT create_distributed_table('%s', '%s')", d.QuoteIdent(table), column)
}

// CreateEmptyCopyQuery builds DDL creating dst with src's columns and no rows.
// Used for the update shadow table and for hypertable-rebuild migrations.
func (d *Dialect) CreateEmptyCopyQuery(src, dst string) string {
	if d.Flavor == MSSQL {
		return fmt.Sprintf("SELECT * INTO %s FROM %s WHERE 1 = 0",
			d.QuoteIdent(dst), d.QuoteIdent(src))
	}
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 1 = 0",
		d.QuoteIdent(dst), d.QuoteIdent(src))
}

// CopyAllRowsQuery builds DML copying every row of src into a new table dst.
func (d *Dialect) CopyAllRowsQuery(src, dst string) string {
	if d.Flavor == MSSQL {
		return fmt.Sprintf("SELECT * INTO %s FROM %s", d.QuoteIdent(dst), d.QuoteIdent(src))
	}
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", d.QuoteIdent(dst), d.QuoteIdent(src))
}

// RenameTableQuery builds a table rename.
func (d *Dialect) RenameTableQuery(from, to string) string {
	switch d.Flavor {
	case MSSQL:
		return fmt.Sprintf("EXEC sp_rename '%s', '%s'", from, to)
	case MySQL:
		return fmt.Sprintf("RENAME TABLE %s TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
	default:
		return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
	}
}

// DropTableQuery builds a drop-table statement.
func (d *Dialect) DropTableQuery(table string) string {
	return "DROP TABLE " + d.QuoteIdent(table)
}

// UpdateFromQueries builds the staged-update statements: every row of patch
// overwrites the matching row of target, joined on joinCols, updating
// valueCols. The join must cover every non-value column so that the merge is
// exact at the row-key level.
func (d *Dialect) UpdateFromQueries(target, patch string, joinCols, valueCols []string) []string {
	t := d.QuoteIdent(target)
	p := d.QuoteIdent(patch)

	switch d.Flavor {
	case MySQL:
		var b strings.Builder
		fmt.Fprintf(&b, "UPDATE %s AS f JOIN %s AS p ON ", t, p)
		for i, c := range joinCols {
			if i > 0 {
				b.WriteString(" AND ")
			}
			fmt.Fprintf(&b, "f.%s = p.%s", d.QuoteIdent(c), d.QuoteIdent(c))
		}
		b.WriteString(" SET ")
		for i, c := range valueCols {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "f.%s = p.%s", d.QuoteIdent(c), d.QuoteIdent(c))
		}
		return []string{b.String()}

	case MSSQL, Oracle:
		var b strings.Builder
		fmt.Fprintf(&b, "MERGE INTO %s f USING (SELECT DISTINCT * FROM %s) p ON (", t, p)
		for i, c := range joinCols {
			if i > 0 {
				b.WriteString(" AND ")
			}
			fmt.Fprintf(&b, "f.%s = p.%s", d.QuoteIdent(c), d.QuoteIdent(c))
		}
		b.WriteString(") WHEN MATCHED THEN UPDATE SET ")
		for i, c := range valueCols {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "f.%s = p.%s", d.QuoteIdent(c), d.QuoteIdent(c))
		}
		b.WriteString(";")
		return []string{b.String()}

	default:
		// Postgres family, SQLite (3.33+), DuckDB: UPDATE ... FROM.
		var b strings.Builder
		fmt.Fprintf(&b, "UPDATE %s AS f SET ", t)
		for i, c := range valueCols {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s = p.%s", d.QuoteIdent(c), d.QuoteIdent(c))
		}
		fmt.Fprintf(&b, " FROM %s AS p WHERE ", p)
		for i, c := range joinCols {
			if i > 0 {
				b.WriteString(" AND ")
			}
			fmt.Fprintf(&b, "f.%s = p.%s", d.QuoteIdent(c), d.QuoteIdent(c))
		}
		return []string{b.String()}
	}
}

// TableExistsQuery introspects table existence; a scalar result means the
// table exists.
func (d *Dialect) TableExistsQuery(table string) string {
	switch d.Flavor {
	case SQLite:
		return fmt.Sprintf(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = '%s'", table)
	case Oracle:
		return fmt.Sprintf(
			"SELECT table_name FROM all_tables WHERE table_name = '%s'", strings.ToUpper(table))
	default:
		return fmt.Sprintf(
			"SELECT table_name FROM information_schema.tables WHERE table_name = '%s'", table)
	}
}

// ColumnsQuery introspects a live table's column names and native types.
// Result column labels differ per flavor; see schema.LiveColumns.
func (d *Dialect) ColumnsQuery(table string) string {
	switch d.Flavor {
	case SQLite:
		return fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdent(table))
	case Oracle:
		return fmt.Sprintf(
			"SELECT column_name, data_type FROM all_tab_columns WHERE table_name = '%s'",
			strings.ToUpper(table))
	default:
		return fmt.Sprintf(
			"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = '%s'",
			table)
	}
}

// TopOne builds the per-flavor "first row by this ordering" query.
func (d *Dialect) TopOne(selectCols, table, where, orderBy string) string {
	switch d.Flavor {
	case MSSQL:
		return fmt.Sprintf("SELECT TOP 1 %s FROM %s%s ORDER BY %s",
			selectCols, d.QuoteIdent(table), where, orderBy)
	case Oracle:
		return fmt.Sprintf(
			"SELECT * FROM (SELECT %s FROM %s%s ORDER BY %s) WHERE ROWNUM = 1",
			selectCols, d.QuoteIdent(table), where, orderBy)
	default:
		return fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT 1",
			selectCols, d.QuoteIdent(table), where, orderBy)
	}
}

// CastToText wraps expr in a cast to the flavor's unbounded text type, for
// LIKE matching against JSON document columns.
func (d *Dialect) CastToText(expr string) string {
	switch d.Flavor {
	case MSSQL:
		return fmt.Sprintf("CAST(%s AS NVARCHAR(MAX))", expr)
	case MySQL:
		return fmt.Sprintf("CAST(%s AS CHAR)", expr)
	case Oracle:
		return fmt.Sprintf("CAST(%s AS VARCHAR2(4000))", expr)
	default:
		return fmt.Sprintf("CAST(%s AS TEXT)", expr)
	}
}

// KeyColumnType is the native type for indexable key columns. Unbounded text
// cannot participate in UNIQUE constraints on every flavor, so keys get a
// bounded type where required.
func (d *Dialect) KeyColumnType() string {
	switch d.Flavor {
	case MSSQL:
		return "NVARCHAR(450)"
	case MySQL:
		return "VARCHAR(255)"
	case Oracle:
		return "NVARCHAR2(450)"
	default:
		return "TEXT"
	}
}

// OrderAscNullsFirst builds an ascending ORDER BY term with NULLs sorted
// first, synthesizing the null ordering with a CASE for flavors without
// native NULLS FIRST.
func (d *Dialect) OrderAscNullsFirst(column string) string {
	c := d.QuoteIdent(column)
	if d.SupportsNullsFirst {
		return c + " ASC NULLS FIRST"
	}
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN 0 ELSE 1 END, %s ASC", c, c)
}
