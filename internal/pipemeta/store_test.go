package pipemeta

import (
	"context"
	"errors"
	"testing"

	"pipesync/internal/dialect"
	"pipesync/internal/sqlexec"
)

func openTestDB(t *testing.T) sqlexec.DB {
	t.Helper()
	db, err := sqlexec.Open(context.Background(), dialect.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(openTestDB(t))

	if err := store.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	// Idempotent.
	if err := store.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable second call: %v", err)
	}

	pipe := Pipe{
		ConnectorKeys: "sql:main",
		MetricKey:     "weather",
		LocationKey:   strptr("KATL"),
		Parameters: Parameters{
			"columns": map[string]any{"datetime": "dt", "id": "station"},
			"tags":    []any{"production"},
		},
	}

	if _, err := store.ID(ctx, pipe); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("ID before register: err = %v, want ErrNotRegistered", err)
	}

	if err := store.Register(ctx, pipe); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.Register(ctx, pipe); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second Register: err = %v, want ErrAlreadyRegistered", err)
	}

	id, err := store.ID(ctx, pipe)
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id <= 0 {
		t.Fatalf("ID = %d, want positive", id)
	}

	params, err := store.Attributes(ctx, pipe)
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if params.DatetimeColumn() != "dt" || params.IDColumn() != "station" {
		t.Fatalf("stored parameters = %v", params)
	}

	if err := store.DeleteRegistration(ctx, pipe); err != nil {
		t.Fatalf("DeleteRegistration: %v", err)
	}
	if _, err := store.ID(ctx, pipe); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("ID after delete: err = %v, want ErrNotRegistered", err)
	}
}

func TestStoreNullLocationDistinct(t *testing.T) {
	ctx := context.Background()
	store := NewStore(openTestDB(t))
	if err := store.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	withLoc := Pipe{ConnectorKeys: "sql:main", MetricKey: "weather", LocationKey: strptr("KATL")}
	noLoc := Pipe{ConnectorKeys: "sql:main", MetricKey: "weather"}

	if err := store.Register(ctx, withLoc); err != nil {
		t.Fatalf("Register with location: %v", err)
	}
	if err := store.Register(ctx, noLoc); err != nil {
		t.Fatalf("Register without location: %v", err)
	}

	a, err := store.ID(ctx, withLoc)
	if err != nil {
		t.Fatalf("ID with location: %v", err)
	}
	b, err := store.ID(ctx, noLoc)
	if err != nil {
		t.Fatalf("ID without location: %v", err)
	}
	if a == b {
		t.Fatalf("NULL and non-NULL location resolved to the same row")
	}
}

func TestStoreEditPatchAndReplace(t *testing.T) {
	ctx := context.Background()
	store := NewStore(openTestDB(t))
	if err := store.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	pipe := Pipe{
		ConnectorKeys: "sql:main",
		MetricKey:     "power",
		Parameters: Parameters{
			"columns": map[string]any{"datetime": "dt"},
			"target":  "power_readings",
		},
	}
	if err := store.Register(ctx, pipe); err != nil {
		t.Fatalf("Register: %v", err)
	}

	patched := pipe
	patched.Parameters = Parameters{
		"columns": map[string]any{"value": "kwh"},
	}
	if err := store.Edit(ctx, patched, true); err != nil {
		t.Fatalf("Edit patch: %v", err)
	}

	params, err := store.Attributes(ctx, pipe)
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if params.DatetimeColumn() != "dt" {
		t.Fatalf("patch dropped existing column mapping: %v", params)
	}
	if got := params.ValueColumns(); len(got) != 1 || got[0] != "kwh" {
		t.Fatalf("patch did not add value column: %v", params)
	}
	if params.Target() != "power_readings" {
		t.Fatalf("patch dropped target override: %v", params)
	}

	replaced := pipe
	replaced.Parameters = Parameters{"target": "only_target"}
	if err := store.Edit(ctx, replaced, false); err != nil {
		t.Fatalf("Edit replace: %v", err)
	}
	params, err = store.Attributes(ctx, pipe)
	if err != nil {
		t.Fatalf("Attributes after replace: %v", err)
	}
	if params.DatetimeColumn() != "" {
		t.Fatalf("replace kept old columns: %v", params)
	}
	if params.Target() != "only_target" {
		t.Fatalf("replace lost new target: %v", params)
	}
}

func TestLookupKeysFiltering(t *testing.T) {
	ctx := context.Background()
	store := NewStore(openTestDB(t))
	if err := store.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	seed := []Pipe{
		{ConnectorKeys: "sql:main", MetricKey: "weather", LocationKey: strptr("KATL"),
			Parameters: Parameters{"tags": []any{"production"}}},
		{ConnectorKeys: "sql:main", MetricKey: "weather",
			Parameters: Parameters{"tags": []any{"production", "deprecated"}}},
		{ConnectorKeys: "sql:main", MetricKey: "power", LocationKey: strptr("plant1"),
			Parameters: Parameters{"tags": []any{"staging"}}},
		{ConnectorKeys: "api:remote", MetricKey: "weather", LocationKey: strptr("KJFK")},
	}
	for _, p := range seed {
		if err := store.Register(ctx, p); err != nil {
			t.Fatalf("Register %s: %v", p, err)
		}
	}

	t.Run("connector filter", func(t *testing.T) {
		got, err := store.LookupKeys(ctx, KeyFilter{ConnectorKeys: []string{"api:remote"}})
		if err != nil {
			t.Fatalf("LookupKeys: %v", err)
		}
		if len(got) != 1 || got[0].ConnectorKeys != "api:remote" {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("negated metric", func(t *testing.T) {
		got, err := store.LookupKeys(ctx, KeyFilter{MetricKeys: []string{"_power"}})
		if err != nil {
			t.Fatalf("LookupKeys: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d pipes, want 3: %v", len(got), got)
		}
		for _, p := range got {
			if p.MetricKey == "power" {
				t.Fatalf("excluded metric leaked through: %v", p)
			}
		}
	})

	t.Run("null location marker", func(t *testing.T) {
		got, err := store.LookupKeys(ctx, KeyFilter{LocationKeys: []string{"None"}})
		if err != nil {
			t.Fatalf("LookupKeys: %v", err)
		}
		if len(got) != 1 || got[0].LocationKey != nil {
			t.Fatalf("got %v, want the single NULL-location pipe", got)
		}
	})

	t.Run("tag include", func(t *testing.T) {
		got, err := store.LookupKeys(ctx, KeyFilter{Tags: []string{"production"}})
		if err != nil {
			t.Fatalf("LookupKeys: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d pipes, want 2: %v", len(got), got)
		}
	})

	t.Run("tag exclude wins", func(t *testing.T) {
		got, err := store.LookupKeys(ctx, KeyFilter{Tags: []string{"production", "_deprecated"}})
		if err != nil {
			t.Fatalf("LookupKeys: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d pipes, want 1: %v", len(got), got)
		}
		if got[0].LocationKey == nil || *got[0].LocationKey != "KATL" {
			t.Fatalf("wrong survivor: %v", got[0])
		}
	})

	t.Run("ordering nulls first", func(t *testing.T) {
		got, err := store.LookupKeys(ctx, KeyFilter{ConnectorKeys: []string{"sql:main"}, MetricKeys: []string{"weather"}})
		if err != nil {
			t.Fatalf("LookupKeys: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d pipes, want 2", len(got))
		}
		if got[0].LocationKey != nil {
			t.Fatalf("NULL location should sort first: %v", got)
		}
	})
}
