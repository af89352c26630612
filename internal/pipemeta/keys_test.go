package pipemeta

import (
	"strings"
	"testing"

	"pipesync/internal/dialect"
)

func mustDialect(t *testing.T, flavor dialect.Flavor) *dialect.Dialect {
	t.Helper()
	d, err := dialect.Lookup(flavor)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", flavor, err)
	}
	return d
}

func TestSeparateNegation(t *testing.T) {
	t.Parallel()

	in, ex := separateNegation([]string{"sql:main", "_sql:old", "api:remote", "_api:dead"})
	if len(in) != 2 || in[0] != "sql:main" || in[1] != "api:remote" {
		t.Fatalf("include = %v", in)
	}
	if len(ex) != 2 || ex[0] != "sql:old" || ex[1] != "api:dead" {
		t.Fatalf("exclude = %v", ex)
	}
}

func TestKeyColumnClause(t *testing.T) {
	t.Parallel()

	d := mustDialect(t, dialect.Postgres)

	tests := []struct {
		name       string
		col        string
		vals       []string
		isLocation bool
		want       string
	}{
		{
			name: "plain inclusion",
			col:  "connector_keys",
			vals: []string{"sql:main", "api:remote"},
			want: `"connector_keys" IN ('sql:main', 'api:remote')`,
		},
		{
			name: "exclusion only",
			col:  "metric_key",
			vals: []string{"_weather"},
			want: `"metric_key" NOT IN ('weather')`,
		},
		{
			name: "mixed inclusion and exclusion",
			col:  "metric_key",
			vals: []string{"weather", "_power"},
			want: `"metric_key" IN ('weather') AND "metric_key" NOT IN ('power')`,
		},
		{
			name:       "null marker alone matches NULL only",
			col:        "location_key",
			vals:       []string{"None"},
			isLocation: true,
			want:       `"location_key" IS NULL`,
		},
		{
			name:       "null marker alongside values",
			col:        "location_key",
			vals:       []string{"KATL", "null"},
			isLocation: true,
			want:       `("location_key" IN ('KATL') OR "location_key" IS NULL)`,
		},
		{
			name: "empty list means no clause",
			col:  "connector_keys",
			vals: nil,
			want: "",
		},
		{
			name: "quote in value escaped",
			col:  "metric_key",
			vals: []string{"o'clock"},
			want: `"metric_key" IN ('o''clock')`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := keyColumnClause(d, tc.col, tc.vals, tc.isLocation)
			if got != tc.want {
				t.Fatalf("clause = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParamClause(t *testing.T) {
	t.Parallel()

	d := mustDialect(t, dialect.Postgres)

	if got := paramClause(d, "pipe_id", 7); got != `"pipe_id" = '7'` {
		t.Fatalf("scalar clause = %q", got)
	}
	if got := paramClause(d, "metric_key", "_weather"); got != `"metric_key" != 'weather'` {
		t.Fatalf("negated scalar clause = %q", got)
	}
	got := paramClause(d, "connector_keys", []string{"sql:main", "_sql:old"})
	want := `"connector_keys" IN ('sql:main') AND "connector_keys" NOT IN ('sql:old')`
	if got != want {
		t.Fatalf("list clause = %q, want %q", got, want)
	}
}

// A tag appearing both as an inclusion (via another pipe's tag) and an
// exclusion must stay excluded: the passes are independent and exclusion
// runs strictly after inclusion.
func TestTagMatchExcludeWins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		actual  []string
		include []string
		exclude []string
		want    bool
	}{
		{"no filter matches", []string{"x"}, nil, nil, true},
		{"include hit", []string{"production"}, []string{"production"}, nil, true},
		{"include miss", []string{"staging"}, []string{"production"}, nil, false},
		{"include is OR", []string{"staging"}, []string{"production", "staging"}, nil, true},
		{"exclude hit", []string{"deprecated"}, nil, []string{"deprecated"}, false},
		{"exclude wins over include", []string{"production", "deprecated"}, []string{"production"}, []string{"deprecated"}, false},
		{"included and not excluded", []string{"production"}, []string{"production"}, []string{"deprecated"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tagMatch(tc.actual, tc.include, tc.exclude); got != tc.want {
				t.Fatalf("tagMatch(%v, %v, %v) = %v, want %v",
					tc.actual, tc.include, tc.exclude, got, tc.want)
			}
		})
	}
}

func TestStripNullMarkers(t *testing.T) {
	t.Parallel()

	out, sawNull := stripNullMarkers([]string{"KATL", "[None]", "None", "null", "KJFK"})
	if !sawNull {
		t.Fatalf("expected null markers to be detected")
	}
	if len(out) != 2 || out[0] != "KATL" || out[1] != "KJFK" {
		t.Fatalf("remaining values = %v", out)
	}
}

func TestTagPrefilterUsesTextCast(t *testing.T) {
	t.Parallel()

	d := mustDialect(t, dialect.MSSQL)
	cast := d.CastToText(d.QuoteIdent("parameters"))
	if !strings.Contains(cast, "[parameters]") {
		t.Fatalf("CastToText lost the column: %q", cast)
	}
}
