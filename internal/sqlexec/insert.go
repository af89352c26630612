package sqlexec

import (
	"strings"

	"pipesync/internal/dialect"
)

// maxBindParams caps the parameter count per INSERT statement. Conservative:
// SQLite historically allowed 999 bind variables and most servers slow down
// long before their hard limits.
const maxBindParams = 900

// buildInsertQuery renders a multi-row parameterized INSERT for rowCount
// rows. Pure so it can be unit tested without a database.
func buildInsertQuery(d *dialect.Dialect, table string, columns []string, rowCount int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QuoteIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(") VALUES ")

	p := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.PlaceholderN(p))
			p++
		}
		b.WriteString(")")
	}
	return b.String()
}

// rowsPerChunk returns how many rows fit in one statement under the
// parameter cap. Always at least one; a single very wide row still has to go
// somewhere.
func rowsPerChunk(columnCount int) int {
	if columnCount <= 0 {
		return 1
	}
	n := maxBindParams / columnCount
	if n < 1 {
		n = 1
	}
	return n
}
