// Package syncer orchestrates pipe synchronization: registration, schema
// evolution, delta partitioning, staged updates, bulk appends, and index
// creation, in that order.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"pipesync/internal/delta"
	"pipesync/internal/dialect"
	"pipesync/internal/indexes"
	"pipesync/internal/metrics"
	"pipesync/internal/pipemeta"
	"pipesync/internal/query"
	"pipesync/internal/schema"
	"pipesync/internal/sqlexec"
)

// ErrUpdateApply marks a failed staged update. The sync aborts and withholds
// its unseen rows so a retry of the same batch stays idempotent.
var ErrUpdateApply = errors.New("staged update failed")

// SuccessResult is the canonical outcome of the engine's operations. Msg is
// human-readable and carries the row counts of a sync.
type SuccessResult struct {
	OK  bool
	Msg string
}

// SyncOptions bound and tune a single Sync call. The zero value checks
// existing rows over the batch's own time window.
type SyncOptions struct {
	Begin *time.Time
	End   *time.Time

	// SkipCheckExisting disables the delta fetch; the whole batch is
	// treated as unseen. Faster, but re-syncing a batch then duplicates
	// rows.
	SkipCheckExisting bool
}

// Engine wires the sync pipeline together. All dependencies are explicit;
// there are no package-level defaults.
type Engine struct {
	DB      sqlexec.DB
	Meta    *pipemeta.Store
	Log     *zap.Logger
	Metrics metrics.Backend
}

// New builds an Engine over an open database. A nil logger becomes a nop
// logger and a nil metrics backend a nop backend.
func New(db sqlexec.DB, log *zap.Logger, m metrics.Backend) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Engine{
		DB:      db,
		Meta:    pipemeta.NewStore(db),
		Log:     log,
		Metrics: m,
	}
}

// Sync merges a batch into the pipe's table. The steps, in order: register
// the pipe if needed, evolve the table's schema to the batch, partition the
// batch against existing rows, apply changed rows through a shadow table,
// append unseen rows, and index a newly created table.
//
// Schema evolution and index creation failures are logged and do not fail
// the sync. A staged-update failure does: the unseen rows are withheld so
// that retrying the same batch cannot duplicate them.
func (e *Engine) Sync(ctx context.Context, pipe pipemeta.Pipe, batch []sqlexec.Row, opts SyncOptions) (SuccessResult, error) {
	started := time.Now()

	if err := e.ensureRegistered(ctx, &pipe, batch); err != nil {
		return fail(fmt.Sprintf("failed to register %s: %v", pipe, err)), err
	}
	if len(batch) == 0 {
		return SuccessResult{OK: true, Msg: "Inserted 0, updated 0 rows."}, nil
	}

	target := pipe.Target()
	existed, err := sqlexec.TableExists(ctx, e.DB, target)
	if err != nil {
		return fail(err.Error()), err
	}

	if existed {
		e.evolveSchema(ctx, pipe, batch)
	}

	res, err := delta.FilterExisting(ctx, e.DB, pipe, batch, opts.Begin, opts.End,
		!opts.SkipCheckExisting && existed)
	if err != nil {
		return fail(err.Error()), err
	}

	if len(res.Update) > 0 {
		if err := e.applyUpdate(ctx, pipe, res.Update); err != nil {
			err = fmt.Errorf("%w for %s: %v", ErrUpdateApply, pipe, err)
			e.Log.Error("staged update failed",
				zap.String("pipe", pipe.String()),
				zap.String("table", target),
				zap.Error(err))
			return fail(err.Error()), err
		}
		e.Metrics.IncCounter(metrics.RowsUpdatedTotal, float64(len(res.Update)),
			metrics.Labels{"pipe": target})
	}

	if len(res.Unseen) > 0 {
		if err := e.appendUnseen(ctx, pipe, res.Unseen, existed); err != nil {
			return fail(err.Error()), err
		}
		e.Metrics.IncCounter(metrics.RowsInsertedTotal, float64(len(res.Unseen)),
			metrics.Labels{"pipe": target})
	}

	if !existed && len(res.Unseen) > 0 {
		e.createIndexes(ctx, pipe)
	}

	e.Metrics.IncCounter(metrics.SyncsTotal, 1, metrics.Labels{"status": "ok"})
	e.Metrics.ObserveHistogram(metrics.SyncDuration, time.Since(started).Seconds(), nil)

	msg := fmt.Sprintf("Inserted %d, updated %d rows.", len(res.Unseen), len(res.Update))
	e.Log.Info("synced pipe",
		zap.String("pipe", pipe.String()),
		zap.Int("inserted", len(res.Unseen)),
		zap.Int("updated", len(res.Update)))
	return SuccessResult{OK: true, Msg: msg}, nil
}

// ensureRegistered registers the pipe on first contact, seeding the stored
// dtypes from the first non-empty row when the parameters carry none.
func (e *Engine) ensureRegistered(ctx context.Context, pipe *pipemeta.Pipe, batch []sqlexec.Row) error {
	if err := e.Meta.EnsureTable(ctx); err != nil {
		return err
	}
	_, err := e.Meta.ID(ctx, *pipe)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pipemeta.ErrNotRegistered) {
		return err
	}

	params := pipemeta.Parameters(pipemeta.DeepMerge(nil, pipe.Parameters))
	if _, ok := params["dtypes"]; !ok && len(batch) > 0 {
		inferred := schema.InferColumns(batch, params.DatetimeColumn())
		dtypes := make(map[string]any, len(inferred))
		for col, t := range inferred {
			dtypes[col] = string(t)
		}
		params["dtypes"] = dtypes
	}
	pipe.Parameters = params
	return e.Meta.Register(ctx, *pipe)
}

// evolveSchema is a warn-and-continue step: a batch that cannot widen the
// table still gets its matching columns synced.
func (e *Engine) evolveSchema(ctx context.Context, pipe pipemeta.Pipe, batch []sqlexec.Row) {
	queries, err := schema.AddColumnQueries(ctx, e.DB, pipe, batch)
	if err == nil && len(queries) > 0 {
		err = sqlexec.ExecAll(ctx, e.DB, queries)
	}
	if err != nil {
		e.Log.Warn("schema evolution failed",
			zap.String("pipe", pipe.String()),
			zap.String("table", pipe.Target()),
			zap.Error(err))
	}
}

// applyUpdate bulk-writes the changed rows into a shadow table, merges them
// into the target joined on every non-value column, and drops the shadow.
func (e *Engine) applyUpdate(ctx context.Context, pipe pipemeta.Pipe, update []sqlexec.Row) error {
	d := e.DB.Dialect()
	target := pipe.Target()
	shadow := pipe.TempTarget()
	joinCols, valueCols := delta.KeyColumns(update, pipe)
	if len(valueCols) == 0 {
		// Nothing to overwrite; rows that differ only in key columns are
		// unseen, not updates.
		return nil
	}

	// A stale shadow from a crashed run would poison the merge.
	_ = e.DB.Exec(ctx, d.DropTableQuery(shadow))

	if err := e.DB.Exec(ctx, d.CreateEmptyCopyQuery(target, shadow)); err != nil {
		return fmt.Errorf("create shadow table: %w", err)
	}
	cols, rows := rowsToValues(update)
	if _, err := e.DB.BulkInsert(ctx, shadow, cols, rows); err != nil {
		return fmt.Errorf("fill shadow table: %w", err)
	}
	if err := sqlexec.ExecAll(ctx, e.DB, d.UpdateFromQueries(target, shadow, joinCols, valueCols)); err != nil {
		return fmt.Errorf("merge shadow table: %w", err)
	}
	if err := e.DB.Exec(ctx, d.DropTableQuery(shadow)); err != nil {
		return fmt.Errorf("drop shadow table: %w", err)
	}
	return nil
}

// appendUnseen writes genuinely new rows, creating the table from the
// batch's inferred schema on first contact.
func (e *Engine) appendUnseen(ctx context.Context, pipe pipemeta.Pipe, unseen []sqlexec.Row, existed bool) error {
	target := pipe.Target()
	if !existed {
		ddl := schema.CreateTableQuery(e.DB.Dialect(), target,
			schema.InferColumns(unseen, pipe.Parameters.DatetimeColumn()))
		if err := e.DB.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
	}
	cols, rows := rowsToValues(unseen)
	if _, err := e.DB.BulkInsert(ctx, target, cols, rows); err != nil {
		return fmt.Errorf("append to %s: %w", target, err)
	}
	return nil
}

// createIndexes is warn-and-continue like schema evolution.
func (e *Engine) createIndexes(ctx context.Context, pipe pipemeta.Pipe) {
	failures, err := indexes.Create(ctx, e.DB, pipe)
	if err != nil {
		e.Log.Warn("index creation failed",
			zap.String("pipe", pipe.String()),
			zap.Error(err))
		return
	}
	for role, ferr := range failures {
		e.Log.Warn("index creation failed",
			zap.String("pipe", pipe.String()),
			zap.String("role", role),
			zap.Error(ferr))
	}
}

// Exists reports whether the pipe's data table exists.
func (e *Engine) Exists(ctx context.Context, pipe pipemeta.Pipe) (bool, error) {
	return sqlexec.TableExists(ctx, e.DB, pipe.Target())
}

// Drop removes the pipe's data and shadow tables but keeps its
// registration.
func (e *Engine) Drop(ctx context.Context, pipe pipemeta.Pipe) (SuccessResult, error) {
	d := e.DB.Dialect()
	_ = e.DB.Exec(ctx, d.DropTableQuery(pipe.TempTarget()))

	exists, err := e.Exists(ctx, pipe)
	if err != nil {
		return fail(err.Error()), err
	}
	if exists {
		if err := e.DB.Exec(ctx, d.DropTableQuery(pipe.Target())); err != nil {
			err = fmt.Errorf("drop %s: %w", pipe, err)
			return fail(err.Error()), err
		}
	}
	return SuccessResult{OK: true, Msg: fmt.Sprintf("Dropped %s.", pipe)}, nil
}

// Clear deletes rows in bounds, begin inclusive and end exclusive.
func (e *Engine) Clear(ctx context.Context, pipe pipemeta.Pipe, begin, end *time.Time, params map[string]any) (SuccessResult, error) {
	if err := query.Clear(ctx, e.DB, pipe, begin, end, params); err != nil {
		return fail(err.Error()), err
	}
	return SuccessResult{OK: true, Msg: fmt.Sprintf("Cleared %s.", pipe)}, nil
}

// Delete drops the pipe's tables and removes its registration.
func (e *Engine) Delete(ctx context.Context, pipe pipemeta.Pipe) (SuccessResult, error) {
	if res, err := e.Drop(ctx, pipe); err != nil {
		return res, err
	}
	if err := e.Meta.DeleteRegistration(ctx, pipe); err != nil && !errors.Is(err, pipemeta.ErrNotRegistered) {
		return fail(err.Error()), err
	}
	return SuccessResult{OK: true, Msg: fmt.Sprintf("Deleted %s.", pipe)}, nil
}

// GetData fetches rows, begin inclusive and end exclusive, newest first.
func (e *Engine) GetData(ctx context.Context, pipe pipemeta.Pipe, begin, end *time.Time, params map[string]any) ([]sqlexec.Row, error) {
	return query.Data(ctx, e.DB, pipe, begin, end, params)
}

// GetBacktrackData fetches rows at or after (begin - minutes), begin
// defaulting to the pipe's newest sync time.
func (e *Engine) GetBacktrackData(ctx context.Context, pipe pipemeta.Pipe, minutes int, begin *time.Time, params map[string]any) ([]sqlexec.Row, error) {
	return query.BacktrackData(ctx, e.DB, pipe, minutes, begin, params)
}

// SyncTime returns the pipe's newest (or oldest) timestamp.
func (e *Engine) SyncTime(ctx context.Context, pipe pipemeta.Pipe, params map[string]any, newest, roundDown bool) (*time.Time, error) {
	return query.SyncTime(ctx, e.DB, pipe, params, newest, roundDown)
}

// Rowcount counts rows in bounds, remotely via the fetch definition when
// remote is set.
func (e *Engine) Rowcount(ctx context.Context, pipe pipemeta.Pipe, begin, end *time.Time, params map[string]any, remote bool) (*int64, error) {
	return query.Rowcount(ctx, e.DB, pipe, begin, end, params, remote)
}

// Dialect exposes the engine's dialect for callers composing their own SQL.
func (e *Engine) Dialect() *dialect.Dialect { return e.DB.Dialect() }

func fail(msg string) SuccessResult {
	return SuccessResult{OK: false, Msg: msg}
}

// rowsToValues flattens a row batch into the column-ordered value matrix the
// executor's bulk insert takes. Columns are the batch's sorted union; rows
// missing a column carry nil there.
func rowsToValues(batch []sqlexec.Row) ([]string, [][]any) {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range batch {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)

	rows := make([][]any, len(batch))
	for i, row := range batch {
		vals := make([]any, len(cols))
		for j, col := range cols {
			vals[j] = row[col]
		}
		rows[i] = vals
	}
	return cols, rows
}
