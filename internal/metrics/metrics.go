// Package metrics defines the minimal backend interface the sync engine
// emits through. The engine depends only on Backend; concrete backends live
// in subpackages so that their SDKs stay out of the core.
package metrics

// Labels attach low-cardinality dimensions to a metric sample.
type Labels map[string]string

// Backend receives counters and histogram samples. Implementations must be
// safe for concurrent use; sync workers share one backend.
type Backend interface {
	// IncCounter adds delta to a monotonic counter. Non-positive deltas
	// are ignored.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits buffered metrics now.
	Flush() error

	// Close flushes one final time and releases resources.
	Close() error
}

// Nop discards everything. The zero value is ready to use; it is the
// default backend when none is wired.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

// Metric names emitted by the sync engine.
const (
	SyncsTotal        = "pipesync.syncs.total"
	RowsInsertedTotal = "pipesync.rows.inserted.total"
	RowsUpdatedTotal  = "pipesync.rows.updated.total"
	SyncDuration      = "pipesync.sync.duration.seconds"
)
