package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"pipesync/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "test",
		FlushEvery: 24 * time.Hour, // minimize loop behavior
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	return b
}

func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSeriesKeyRoundTrip(t *testing.T) {
	t.Parallel()

	k := seriesKey(metrics.SyncsTotal, metrics.Labels{"pipe": "weather", "status": "ok"})
	name, tags := splitSeriesKey(k)
	if name != metrics.SyncsTotal {
		t.Fatalf("name = %q", name)
	}
	if len(tags) != 2 || tags[0] != "pipe:weather" || tags[1] != "status:ok" {
		t.Fatalf("tags = %v", tags)
	}

	// Label order must not matter.
	k2 := seriesKey(metrics.SyncsTotal, metrics.Labels{"status": "ok", "pipe": "weather"})
	if k != k2 {
		t.Fatalf("equal label sets produced different keys: %q vs %q", k, k2)
	}

	name, tags = splitSeriesKey(seriesKey("bare", nil))
	if name != "bare" || len(tags) != 0 {
		t.Fatalf("bare key round trip: %q %v", name, tags)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentileNearestRank(s, 0.50); got != 6 {
		t.Fatalf("p50 = %v", got)
	}
	if got := percentileNearestRank(s, 0); got != 1 {
		t.Fatalf("p0 = %v", got)
	}
	if got := percentileNearestRank(s, 1); got != 10 {
		t.Fatalf("p100 = %v", got)
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Fatalf("empty = %v", got)
	}
}

func TestFlushSubmitsAndResets(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.SyncsTotal, 1, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.SyncsTotal, 1, metrics.Labels{"status": "ok"})
	b.ObserveHistogram(metrics.SyncDuration, 0.25, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", sub.count())
	}
	payload, ok := sub.last()
	if !ok {
		t.Fatalf("missing payload")
	}

	var metricNames []string
	for _, s := range payload.Series {
		metricNames = append(metricNames, s.Metric)
	}
	sort.Strings(metricNames)

	wantContains := []string{
		metrics.SyncsTotal,
		metrics.SyncDuration + ".p50",
		metrics.SyncDuration + ".p95",
		metrics.SyncDuration + ".samples",
	}
	for _, w := range wantContains {
		if !containsName(metricNames, w) {
			t.Fatalf("payload missing metric %q; got=%v", w, metricNames)
		}
	}

	for _, s := range payload.Series {
		if s.Metric != metrics.SyncsTotal {
			continue
		}
		if len(s.Points) != 1 || s.Points[0].Value == nil || *s.Points[0].Value != 2 {
			t.Fatalf("counter points = %v", s.Points)
		}
		if !containsName(s.Tags, "job:test") || !containsName(s.Tags, "status:ok") {
			t.Fatalf("counter tags = %v", s.Tags)
		}
	}

	// Buffers reset: the next flush has nothing to submit.
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush() err=%v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("empty flush submitted a payload")
	}
}

func TestNonPositiveDeltaIgnored(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.SyncsTotal, 0, nil)
	b.IncCounter(metrics.SyncsTotal, -3, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if sub.count() != 0 {
		t.Fatalf("non-positive deltas must not buffer anything")
	}
}

func TestLoopFlushesAndCloseStops(t *testing.T) {
	sub := &fakeSubmitter{}
	tick := make(chan time.Time, 1)
	b, err := NewBackend(context.Background(), Options{
		JobName:    "test",
		FlushEvery: time.Hour,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		newTicker: func(d time.Duration) *time.Ticker {
			tk := time.NewTicker(time.Hour)
			tk.C = tick
			return tk
		},
		submitter: sub,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.SyncsTotal, 1, nil)
	tick <- time.Now()

	deadline := time.Now().Add(2 * time.Second)
	for sub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ticker flush never happened")
		}
		time.Sleep(time.Millisecond)
	}

	b.IncCounter(metrics.SyncsTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if sub.count() != 2 {
		t.Fatalf("Close must flush the tail, got %d payloads", sub.count())
	}
}

func TestConcurrentAccess(t *testing.T) {
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)
	defer func() { _ = b.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.IncCounter(metrics.RowsInsertedTotal, 1, metrics.Labels{"pipe": "weather"})
				b.ObserveHistogram(metrics.SyncDuration, float64(j), nil)
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	payload, ok := sub.last()
	if !ok {
		t.Fatalf("no payload")
	}
	for _, s := range payload.Series {
		if s.Metric == metrics.RowsInsertedTotal {
			if *s.Points[0].Value != 800 {
				t.Fatalf("counter = %v, want 800", *s.Points[0].Value)
			}
			return
		}
	}
	t.Fatalf("counter series missing")
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"env:prod", []string{"env:prod"}},
		{" env:prod , service:sync ", []string{"env:prod", "service:sync"}},
		{",,", nil},
	}
	for _, tc := range tests {
		got := ParseTagsCSV(tc.in)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Fatalf("ParseTagsCSV(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func containsName(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
