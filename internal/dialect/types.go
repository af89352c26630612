package dialect

import "strings"

// Type is a logical column type. Every dialect must be able to represent
// every logical type; the mapping to a native type lives in the Dialect.
type Type string

const (
	TypeText        Type = "text"
	TypeInteger     Type = "integer"
	TypeFloat       Type = "float"
	TypeBool        Type = "boolean"
	TypeTimestamp   Type = "timestamp"
	TypeTimestampTZ Type = "timestamptz"
	TypeJSON        Type = "json"
	TypeNumeric     Type = "numeric"
)

// LogicalType maps a native column type name back to its logical type.
//
// Native names come from live-table introspection and are messy: they may be
// parameterized ("NVARCHAR(2000)", "NUMERIC(12, 10)"), multi-word
// ("TIMESTAMP WITH TIME ZONE", "DOUBLE PRECISION"), or lowercase. The match
// is therefore prefix-based on the bare type name.
//
// Unknown types map to TypeText. Schema reconciliation only needs native
// types for columns it is about to add; existing columns just need a stable
// logical identity, and text is the safe superset.
func LogicalType(native string) Type {
	t := strings.ToUpper(strings.TrimSpace(native))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch {
	case strings.HasPrefix(t, "TIMESTAMPTZ"),
		strings.Contains(t, "WITH TIME ZONE"),
		strings.Contains(t, "WITH TIMEZONE"),
		strings.HasPrefix(t, "DATETIMEOFFSET"):
		return TypeTimestampTZ
	case strings.HasPrefix(t, "TIMESTAMP"),
		strings.HasPrefix(t, "DATETIME"),
		t == "DATE":
		return TypeTimestamp
	case strings.HasPrefix(t, "BOOL"), t == "BIT":
		return TypeBool
	case strings.HasPrefix(t, "FLOAT"),
		strings.HasPrefix(t, "DOUBLE"),
		t == "REAL":
		return TypeFloat
	case strings.HasPrefix(t, "NUMERIC"),
		strings.HasPrefix(t, "DECIMAL"),
		t == "NUMBER":
		return TypeNumeric
	case strings.HasPrefix(t, "INT"),
		strings.HasSuffix(t, "INT"),
		strings.HasPrefix(t, "SERIAL"),
		strings.HasPrefix(t, "BIGSERIAL"):
		return TypeInteger
	case strings.HasPrefix(t, "JSON"):
		return TypeJSON
	default:
		return TypeText
	}
}
