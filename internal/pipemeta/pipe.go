// Package pipemeta persists pipe identities and their parameters in the
// pipes metadata table, and resolves identity-key lookups with
// inclusion/exclusion filters.
package pipemeta

import (
	"strings"
)

// Pipe is the immutable identity of one logical time-series table: a
// connector/metric/location triple. Two pipes with the same triple are the
// same pipe regardless of tags. Parameters travel with the struct but live
// authoritatively in the metadata table.
type Pipe struct {
	ConnectorKeys string
	MetricKey     string
	LocationKey   *string

	Parameters Parameters
}

// String renders the identity the way operators refer to it. A nil location
// is omitted rather than spelled out.
func (p Pipe) String() string {
	if p.LocationKey == nil {
		return "Pipe('" + p.ConnectorKeys + "', '" + p.MetricKey + "')"
	}
	return "Pipe('" + p.ConnectorKeys + "', '" + p.MetricKey + "', '" + *p.LocationKey + "')"
}

// Target is the data table name, derived deterministically from the identity
// unless the parameters override it.
func (p Pipe) Target() string {
	if t := p.Parameters.Target(); t != "" {
		return t
	}
	parts := []string{p.ConnectorKeys, p.MetricKey}
	if p.LocationKey != nil {
		parts = append(parts, *p.LocationKey)
	}
	return sanitizeIdent(strings.Join(parts, "_"))
}

// TempTarget is the shadow table used for staged updates.
func (p Pipe) TempTarget() string { return "_" + p.Target() }

// sanitizeIdent folds identity punctuation (connector keys look like
// "sql:main") into a single identifier-safe form.
func sanitizeIdent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Parameters is the pipe's free-form JSON parameter document. Well-known
// keys get typed accessors; everything else rides along untouched, which is
// what makes patch-style edits workable.
type Parameters map[string]any

// Columns returns the logical role -> physical column mapping.
func (p Parameters) Columns() map[string]string {
	return stringMap(p["columns"])
}

// Indices returns the explicit role -> index name mapping. Roles without an
// entry fall back to IndexName.
func (p Parameters) Indices() map[string]string {
	return stringMap(p["indices"])
}

// IndexName resolves the index name for a role on a target table.
func (p Parameters) IndexName(role, target string) string {
	if name, ok := p.Indices()[role]; ok && name != "" {
		return name
	}
	col := p.Columns()[role]
	if col == "" {
		col = role
	}
	return "ix_" + target + "_" + col
}

// Tags returns the pipe's tag list.
func (p Parameters) Tags() []string {
	raw, ok := p["tags"].([]any)
	if !ok {
		if ss, ok := p["tags"].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Target returns the explicit table-name override, if any.
func (p Parameters) Target() string {
	s, _ := p["target"].(string)
	return s
}

// FetchDefinition returns the pipe's source query definition
// (parameters.fetch.definition), used for remote rowcounts.
func (p Parameters) FetchDefinition() string {
	fetch, ok := p["fetch"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := fetch["definition"].(string)
	return s
}

// DatetimeColumn returns the designated datetime column, or "".
func (p Parameters) DatetimeColumn() string { return p.Columns()["datetime"] }

// IDColumn returns the designated id column, or "".
func (p Parameters) IDColumn() string { return p.Columns()["id"] }

// ValueColumns returns the physical columns holding measured values; every
// other column is part of the row key.
func (p Parameters) ValueColumns() []string {
	var out []string
	for role, col := range p.Columns() {
		if role == "value" || strings.HasPrefix(role, "value_") {
			out = append(out, col)
		}
	}
	return out
}

func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
