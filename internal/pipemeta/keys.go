package pipemeta

import (
	"context"
	"fmt"
	"strings"

	"pipesync/internal/dialect"
)

// NegationPrefix marks a filter value as an exclusion rather than an
// inclusion: "_sql:main" matches every connector key except "sql:main".
const NegationPrefix = "_"

// KeyFilter narrows a LookupKeys scan. Empty lists mean no restriction; a
// location list containing only the null marker matches NULL locations only.
// Values carrying the negation prefix are exclusions. Tags are evaluated
// against the stored parameters' tag lists, not indexed columns.
type KeyFilter struct {
	ConnectorKeys []string
	MetricKeys    []string
	LocationKeys  []string
	Tags          []string

	// Params filters on the metadata table's own columns (e.g. pipe_id).
	Params map[string]any
}

// lookupColumns are the only columns Params may reference.
var lookupColumns = map[string]bool{
	"pipe_id":        true,
	"connector_keys": true,
	"metric_key":     true,
	"location_key":   true,
}

// LookupKeys returns the registered identities matching the filter, ordered
// by connector key, then metric key, then location key with NULLs first.
//
// Tag inclusion and exclusion are independent passes: inclusion is OR within
// itself, exclusion is tested strictly after, so a tag appearing in both
// directions is ultimately excluded. That ordering is a defined contract,
// not an accident; see the regression test.
func (s *Store) LookupKeys(ctx context.Context, f KeyFilter) ([]Pipe, error) {
	d := s.DB.Dialect()

	var where []string
	addKeyClause := func(col string, vals []string, isLocation bool) {
		clause := keyColumnClause(d, col, vals, isLocation)
		if clause != "" {
			where = append(where, clause)
		}
	}
	addKeyClause("connector_keys", f.ConnectorKeys, false)
	addKeyClause("metric_key", f.MetricKeys, false)
	addKeyClause("location_key", f.LocationKeys, true)

	for col, val := range f.Params {
		if !lookupColumns[col] {
			continue
		}
		if clause := paramClause(d, col, val); clause != "" {
			where = append(where, clause)
		}
	}

	// SQL-side tag prefilter; the exact include/exclude passes run in Go
	// below against the parsed tag lists.
	inTags, exTags := separateNegation(f.Tags)
	if len(inTags) > 0 {
		likes := make([]string, 0, len(inTags))
		for _, tag := range inTags {
			likes = append(likes, fmt.Sprintf(
				`%s LIKE '%%"tags":%%"%s"%%'`,
				d.CastToText(d.QuoteIdent("parameters")), escapeLiteral(tag),
			))
		}
		where = append(where, "("+strings.Join(likes, " OR ")+")")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s, %s, %s FROM %s",
		d.QuoteIdent("connector_keys"), d.QuoteIdent("metric_key"),
		d.QuoteIdent("location_key"), d.QuoteIdent("parameters"),
		d.QuoteIdent(metaTable),
	)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY %s ASC, %s ASC, %s",
		d.QuoteIdent("connector_keys"), d.QuoteIdent("metric_key"),
		d.OrderAscNullsFirst("location_key"),
	)

	rows, err := s.DB.Query(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("lookup pipe keys: %w", err)
	}

	var out []Pipe
	for _, row := range rows {
		pipe := Pipe{
			ConnectorKeys: asString(row["connector_keys"]),
			MetricKey:     asString(row["metric_key"]),
		}
		if loc := row["location_key"]; loc != nil {
			l := asString(loc)
			pipe.LocationKey = &l
		}
		params, err := decodeParameters(row["parameters"])
		if err != nil {
			return nil, err
		}
		pipe.Parameters = params

		if !tagMatch(params.Tags(), inTags, exTags) {
			continue
		}
		out = append(out, pipe)
	}
	return out, nil
}

// tagMatch applies the include pass, then the exclude pass. Exclude wins.
func tagMatch(actual, include, exclude []string) bool {
	if len(include) > 0 {
		hit := false
		for _, tag := range include {
			if containsString(actual, tag) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, tag := range exclude {
		if containsString(actual, tag) {
			return false
		}
	}
	return true
}

// keyColumnClause builds the WHERE term for one identity column from its
// inclusion/exclusion value list.
func keyColumnClause(d *dialect.Dialect, col string, vals []string, isLocation bool) string {
	if len(vals) == 0 {
		return ""
	}
	include, exclude := separateNegation(vals)

	var includeNull bool
	if isLocation {
		include, includeNull = stripNullMarkers(include)
	}

	c := d.QuoteIdent(col)
	var terms []string
	switch {
	case len(include) > 0 && includeNull:
		terms = append(terms, fmt.Sprintf("(%s IN (%s) OR %s IS NULL)", c, literalList(include), c))
	case len(include) > 0:
		terms = append(terms, fmt.Sprintf("%s IN (%s)", c, literalList(include)))
	case includeNull:
		terms = append(terms, c+" IS NULL")
	}
	if len(exclude) > 0 {
		terms = append(terms, fmt.Sprintf("%s NOT IN (%s)", c, literalList(exclude)))
	}
	return strings.Join(terms, " AND ")
}

func paramClause(d *dialect.Dialect, col string, val any) string {
	c := d.QuoteIdent(col)
	switch v := val.(type) {
	case []string:
		include, exclude := separateNegation(v)
		var terms []string
		if len(include) > 0 {
			terms = append(terms, fmt.Sprintf("%s IN (%s)", c, literalList(include)))
		}
		if len(exclude) > 0 {
			terms = append(terms, fmt.Sprintf("%s NOT IN (%s)", c, literalList(exclude)))
		}
		return strings.Join(terms, " AND ")
	default:
		s := fmt.Sprint(val)
		if strings.HasPrefix(s, NegationPrefix) {
			return fmt.Sprintf("%s != '%s'", c, escapeLiteral(s[len(NegationPrefix):]))
		}
		return fmt.Sprintf("%s = '%s'", c, escapeLiteral(s))
	}
}

// separateNegation splits values into plain and negation-prefixed sets,
// stripping the prefix from the latter.
func separateNegation(vals []string) (include, exclude []string) {
	for _, v := range vals {
		if strings.HasPrefix(v, NegationPrefix) {
			exclude = append(exclude, v[len(NegationPrefix):])
			continue
		}
		include = append(include, v)
	}
	return include, exclude
}

// stripNullMarkers removes the spellings callers use to mean "NULL location"
// and reports whether any was present.
func stripNullMarkers(vals []string) ([]string, bool) {
	var out []string
	var sawNull bool
	for _, v := range vals {
		switch v {
		case "[None]", "None", "null":
			sawNull = true
		default:
			out = append(out, v)
		}
	}
	return out, sawNull
}

func literalList(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + escapeLiteral(v) + "'"
	}
	return strings.Join(quoted, ", ")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(v)
	}
}
