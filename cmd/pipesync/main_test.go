package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestParseBound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01T02:30:45Z", time.Date(2024, 1, 1, 2, 30, 45, 0, time.UTC)},
		{"2024-01-01 02:30:45", time.Date(2024, 1, 1, 2, 30, 45, 0, time.UTC)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		got, err := parseBound(tc.in)
		if err != nil {
			t.Fatalf("parseBound(%q): %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseBound(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := parseBound("yesterday"); err == nil {
		t.Fatal("parseBound accepted garbage input")
	}
}

func TestBuildJobs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dataPath := filepath.Join(dir, "rows.json")
	rows := []map[string]any{
		{"dt": "2024-01-01 00:00:00", "station": "KATL", "temperature": 70.1},
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		t.Fatalf("marshal rows: %v", err)
	}
	if err := os.WriteFile(dataPath, raw, 0o644); err != nil {
		t.Fatalf("write rows: %v", err)
	}

	loc := "KATL"
	jobs, err := buildJobs([]PipeJob{{
		Connector:  "sql:main",
		Metric:     "weather",
		Location:   &loc,
		Parameters: map[string]any{"columns": map[string]any{"datetime": "dt"}},
		DataFile:   dataPath,
		Begin:      "2024-01-01",
		End:        "2024-01-02 00:00:00",
	}})
	if err != nil {
		t.Fatalf("buildJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if got := job.Pipe.String(); got != "Pipe('sql:main', 'weather', 'KATL')" {
		t.Fatalf("pipe key = %q", got)
	}
	if len(job.Batch) != 1 || job.Batch[0]["station"] != "KATL" {
		t.Fatalf("unexpected batch: %#v", job.Batch)
	}
	if job.Opts.Begin == nil || job.Opts.End == nil {
		t.Fatal("bounds were not parsed")
	}
	if !job.Opts.End.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %v", *job.Opts.End)
	}
}

func TestBuildJobsRejectsMissingKeys(t *testing.T) {
	t.Parallel()

	if _, err := buildJobs([]PipeJob{{Metric: "weather"}}); err == nil {
		t.Fatal("expected error for missing connector")
	}
	if _, err := buildJobs([]PipeJob{{Connector: "sql:main"}}); err == nil {
		t.Fatal("expected error for missing metric")
	}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dataPath := filepath.Join(dir, "rows.json")
	rows := []map[string]any{
		{"dt": "2024-01-01 00:00:00", "station": "KATL", "temperature": 70.1},
		{"dt": "2024-01-01 00:00:00", "station": "KJFK", "temperature": 65.0},
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		t.Fatalf("marshal rows: %v", err)
	}
	if err := os.WriteFile(dataPath, raw, 0o644); err != nil {
		t.Fatalf("write rows: %v", err)
	}

	cfg := Config{
		Flavor:  "sqlite",
		DSN:     filepath.Join(dir, "pipes.db"),
		Workers: 2,
		Pipes: []PipeJob{{
			Connector: "sql:main",
			Metric:    "weather",
			Parameters: map[string]any{
				"columns": map[string]any{"datetime": "dt", "id": "station"},
			},
			DataFile: dataPath,
		}},
	}
	if err := run(context.Background(), cfg, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Second run with the same batch must be a no-op sync, not an error.
	if err := run(context.Background(), cfg, false); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if err := run(context.Background(), Config{}, false); err == nil {
		t.Fatal("expected error for empty config")
	}
	if err := run(context.Background(), Config{Flavor: "sqlite", DSN: ":memory:"}, false); err == nil {
		t.Fatal("expected error for empty pipes")
	}
}
