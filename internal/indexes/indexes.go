// Package indexes plans and applies per-role index maintenance for pipe
// tables: plain b-tree indexes everywhere, hypertable conversion on
// TimescaleDB, and distributed tables on Citus.
package indexes

import (
	"context"
	"fmt"
	"sort"

	"pipesync/internal/dialect"
	"pipesync/internal/pipemeta"
	"pipesync/internal/sqlexec"
)

// CreatePlan maps each indexed column role onto the ordered statements that
// establish it. The datetime role becomes a hypertable conversion on flavors
// that support it, space-partitioned by the id column when one is
// designated; the id role is then covered by the space partition and gets no
// plain index of its own.
func CreatePlan(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe) (map[string][]string, error) {
	d := db.Dialect()
	var count *int64
	if d.SupportsHypertables && pipe.Parameters.DatetimeColumn() != "" && pipe.Parameters.IDColumn() != "" {
		c, err := distinctCount(ctx, db, pipe.Target(), pipe.Parameters.IDColumn())
		if err != nil {
			return nil, err
		}
		count = c
	}
	return createPlan(d, pipe, count), nil
}

func createPlan(d *dialect.Dialect, pipe pipemeta.Pipe, spaceCount *int64) map[string][]string {
	target := pipe.Target()
	cols := pipe.Parameters.Columns()
	dtCol := pipe.Parameters.DatetimeColumn()
	idCol := pipe.Parameters.IDColumn()
	spacePartitioned := d.SupportsHypertables && dtCol != "" && idCol != ""

	plan := make(map[string][]string)
	for _, role := range sortedRoles(cols) {
		col := cols[role]
		name := pipe.Parameters.IndexName(role, target)

		switch {
		case role == "datetime" && d.SupportsHypertables:
			space := ""
			if spacePartitioned {
				space = idCol
			}
			plan[role] = []string{d.HypertableQuery(target, dtCol, space, spaceCount)}

		case role == "id" && spacePartitioned:
			// The hypertable's space partition already covers this column.

		case role == "id" && d.SupportsDistributedTables:
			plan[role] = []string{
				d.CreateIndexQuery(name, target, col),
				d.DistributedTableQuery(target, col),
			}

		default:
			plan[role] = []string{d.CreateIndexQuery(name, target, col)}
		}
	}
	return plan
}

// DropPlan maps each role onto the statements that remove its index. On a
// live hypertable the time and space partitions cannot simply be unindexed;
// the whole table is rebuilt through a temporary copy, attributed to
// whichever of the datetime/id roles comes first. Every other role gets a
// plain DROP INDEX.
func DropPlan(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe) (map[string][]string, error) {
	hyper, err := isHypertable(ctx, db, pipe.Target())
	if err != nil {
		return nil, err
	}
	return dropPlan(db.Dialect(), pipe, hyper), nil
}

func dropPlan(d *dialect.Dialect, pipe pipemeta.Pipe, hyper bool) map[string][]string {
	target := pipe.Target()
	cols := pipe.Parameters.Columns()

	plan := make(map[string][]string)
	rebuilt := false
	for _, role := range sortedRoles(cols) {
		if hyper && (role == "datetime" || role == "id") {
			if rebuilt {
				continue
			}
			rebuilt = true
			plan[role] = rebuildStatements(d, target)
			continue
		}
		plan[role] = []string{d.DropIndexQuery(pipe.Parameters.IndexName(role, target), target)}
	}
	return plan
}

// rebuildStatements copies the table aside, drops the original, and renames
// the copy back. The copy is a plain table, so the hypertable partitioning
// and its indexes are gone afterwards.
func rebuildStatements(d *dialect.Dialect, target string) []string {
	temp := "_" + target + "_temp_migration"
	return []string{
		"DROP TABLE IF EXISTS " + d.QuoteIdent(temp),
		d.CopyAllRowsQuery(target, temp),
		d.DropTableQuery(target),
		d.RenameTableQuery(temp, target),
	}
}

// Create executes the create-plan role by role. A failing role does not stop
// the others; the returned map holds the failures, empty on full success.
func Create(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe) (map[string]error, error) {
	plan, err := CreatePlan(ctx, db, pipe)
	if err != nil {
		return nil, err
	}
	return applyPlan(ctx, db, plan), nil
}

// Drop executes the drop-plan role by role, same failure contract as Create.
func Drop(ctx context.Context, db sqlexec.DB, pipe pipemeta.Pipe) (map[string]error, error) {
	plan, err := DropPlan(ctx, db, pipe)
	if err != nil {
		return nil, err
	}
	return applyPlan(ctx, db, plan), nil
}

func applyPlan(ctx context.Context, db sqlexec.DB, plan map[string][]string) map[string]error {
	failures := make(map[string]error)
	for _, role := range sortedKeys(plan) {
		if err := sqlexec.ExecAll(ctx, db, plan[role]); err != nil {
			failures[role] = fmt.Errorf("index role %s: %w", role, err)
		}
	}
	return failures
}

// distinctCount returns the number of distinct id values, or nil when the
// table does not exist yet (the hypertable hint is then left NULL).
func distinctCount(ctx context.Context, db sqlexec.DB, table, column string) (*int64, error) {
	exists, err := sqlexec.TableExists(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	d := db.Dialect()
	query := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s",
		d.QuoteIdent(column), d.QuoteIdent(table))
	v, err := db.Value(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count distinct %s.%s: %w", table, column, err)
	}
	n, err := asInt64(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// isHypertable asks the flavor's catalog whether the live table is a
// hypertable. Flavors without hypertables answer no without a query.
func isHypertable(ctx context.Context, db sqlexec.DB, table string) (bool, error) {
	d := db.Dialect()
	query := d.IsHypertableQuery(table)
	if query == "" {
		return false, nil
	}
	exists, err := sqlexec.TableExists(ctx, db, table)
	if err != nil || !exists {
		return false, err
	}
	v, err := db.Value(ctx, query)
	if err != nil {
		return false, fmt.Errorf("hypertable check for %s: %w", table, err)
	}
	return v != nil, nil
}

func sortedRoles(cols map[string]string) []string {
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

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asInt64(v any) (int64, error) {
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
			return 0, fmt.Errorf("count value %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected count value %T", v)
	}
}
