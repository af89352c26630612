package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"pipesync/internal/dialect"
	"pipesync/internal/metrics"
	"pipesync/internal/metrics/datadog"
	"pipesync/internal/pipemeta"
	"pipesync/internal/rowio"
	"pipesync/internal/sqlexec"
	"pipesync/internal/syncer"
)

// Config is the job-file schema: one target database and the pipes to sync
// into it.
type Config struct {
	Flavor  string `json:"flavor"`
	DSN     string `json:"dsn"`
	Workers int    `json:"workers"`

	Datadog struct {
		Enabled bool   `json:"enabled"`
		JobName string `json:"job_name"`
		Tags    string `json:"tags"`
	} `json:"datadog"`

	Pipes []PipeJob `json:"pipes"`
}

// PipeJob describes one pipe and the batch file to sync into it.
type PipeJob struct {
	Connector  string         `json:"connector"`
	Metric     string         `json:"metric"`
	Location   *string        `json:"location"`
	Parameters map[string]any `json:"parameters"`

	// DataFile holds the batch, JSON or CSV by extension. Empty means
	// register-only.
	DataFile string `json:"data_file"`

	Begin             string `json:"begin"`
	End               string `json:"end"`
	SkipCheckExisting bool   `json:"skip_check_existing"`
}

func main() {
	var cfgPath string
	var verbose bool
	flag.StringVar(&cfgPath, "config", "", "path to sync job config JSON")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	if cfgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: pipesync -config path/to/jobs.json")
		os.Exit(2)
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), cfg, verbose); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func run(ctx context.Context, cfg Config, verbose bool) error {
	if cfg.Flavor == "" || cfg.DSN == "" {
		return fmt.Errorf("flavor and dsn are required")
	}
	if len(cfg.Pipes) == 0 {
		return fmt.Errorf("pipes must not be empty")
	}

	log, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var backend metrics.Backend = metrics.Nop{}
	if cfg.Datadog.Enabled {
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: cfg.Datadog.JobName,
			Tags:    datadog.ParseTagsCSV(cfg.Datadog.Tags),
		})
		if err != nil {
			return fmt.Errorf("datadog metrics: %w", err)
		}
		backend = b
		defer func() { _ = b.Close() }()
	}

	db, err := sqlexec.Open(ctx, dialect.Flavor(cfg.Flavor), os.ExpandEnv(cfg.DSN))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	engine := syncer.New(db, log, backend)

	jobs, err := buildJobs(cfg.Pipes)
	if err != nil {
		return err
	}

	results := engine.RunAll(ctx, jobs, cfg.Workers)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Pipe, r.Err)
			continue
		}
		fmt.Printf("%s: %s\n", r.Pipe, r.Result.Msg)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pipes failed", failed, len(results))
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildJobs(pipeJobs []PipeJob) ([]syncer.Job, error) {
	jobs := make([]syncer.Job, 0, len(pipeJobs))
	for _, pj := range pipeJobs {
		if pj.Connector == "" || pj.Metric == "" {
			return nil, fmt.Errorf("pipe entries need connector and metric")
		}
		pipe := pipemeta.Pipe{
			ConnectorKeys: pj.Connector,
			MetricKey:     pj.Metric,
			LocationKey:   pj.Location,
			Parameters:    pipemeta.Parameters(pj.Parameters),
		}

		var batch []sqlexec.Row
		if pj.DataFile != "" {
			b, err := rowio.ReadFile(pj.DataFile)
			if err != nil {
				return nil, fmt.Errorf("load data for %s: %w", pipe, err)
			}
			batch = b
		}

		opts := syncer.SyncOptions{SkipCheckExisting: pj.SkipCheckExisting}
		if pj.Begin != "" {
			t, err := parseBound(pj.Begin)
			if err != nil {
				return nil, fmt.Errorf("begin for %s: %w", pipe, err)
			}
			opts.Begin = &t
		}
		if pj.End != "" {
			t, err := parseBound(pj.End)
			if err != nil {
				return nil, fmt.Errorf("end for %s: %w", pipe, err)
			}
			opts.End = &t
		}

		jobs = append(jobs, syncer.Job{Pipe: pipe, Batch: batch, Opts: opts})
	}
	return jobs, nil
}

func parseBound(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
