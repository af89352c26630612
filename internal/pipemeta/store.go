package pipemeta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"pipesync/internal/sqlexec"
)

// Identity/metadata precondition violations. Surfaced directly to the
// caller, never retried automatically.
var (
	ErrNotRegistered     = errors.New("pipe is not registered")
	ErrAlreadyRegistered = errors.New("pipe is already registered")
)

// metaTable is the metadata table name.
const metaTable = "pipes"

// Store persists pipe registrations in the pipes metadata table. One row per
// identity triple, parameters as a JSON document.
type Store struct {
	DB sqlexec.DB
}

func NewStore(db sqlexec.DB) *Store { return &Store{DB: db} }

// EnsureTable creates the pipes table if it does not exist. Idempotent; safe
// to run on every startup.
func (s *Store) EnsureTable(ctx context.Context) error {
	exists, err := sqlexec.TableExists(ctx, s.DB, metaTable)
	if err != nil {
		return fmt.Errorf("check pipes table: %w", err)
	}
	if exists {
		return nil
	}

	d := s.DB.Dialect()
	ddl := fmt.Sprintf(
		"CREATE TABLE %s (%s, %s %s NOT NULL, %s %s NOT NULL, %s %s, %s %s, UNIQUE (%s, %s, %s))",
		d.QuoteIdent(metaTable),
		d.AutoIncrementPK("pipe_id"),
		d.QuoteIdent("connector_keys"), d.KeyColumnType(),
		d.QuoteIdent("metric_key"), d.KeyColumnType(),
		d.QuoteIdent("location_key"), d.KeyColumnType(),
		d.QuoteIdent("parameters"), d.JSONColumnType(),
		d.QuoteIdent("connector_keys"), d.QuoteIdent("metric_key"), d.QuoteIdent("location_key"),
	)
	if err := s.DB.Exec(ctx, ddl); err != nil {
		// Concurrent callers can race the existence check; losing the
		// race is fine as long as the table is there now.
		if exists, checkErr := sqlexec.TableExists(ctx, s.DB, metaTable); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create pipes table: %w", err)
	}
	return nil
}

// ID returns the numeric id for a registered identity, or ErrNotRegistered.
func (s *Store) ID(ctx context.Context, pipe Pipe) (int64, error) {
	d := s.DB.Dialect()

	var b strings.Builder
	args := make([]any, 0, 3)
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s = %s AND %s = %s",
		d.QuoteIdent("pipe_id"), d.QuoteIdent(metaTable),
		d.QuoteIdent("connector_keys"), d.PlaceholderN(1),
		d.QuoteIdent("metric_key"), d.PlaceholderN(2),
	)
	args = append(args, pipe.ConnectorKeys, pipe.MetricKey)
	if pipe.LocationKey == nil {
		fmt.Fprintf(&b, " AND %s IS NULL", d.QuoteIdent("location_key"))
	} else {
		fmt.Fprintf(&b, " AND %s = %s", d.QuoteIdent("location_key"), d.PlaceholderN(3))
		args = append(args, *pipe.LocationKey)
	}

	v, err := s.DB.Value(ctx, b.String(), args...)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotRegistered, pipe)
	}
	return toInt64(v)
}

// Register inserts a new identity with its parameters. Fails with
// ErrAlreadyRegistered when the triple already has an id.
func (s *Store) Register(ctx context.Context, pipe Pipe) error {
	if _, err := s.ID(ctx, pipe); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, pipe)
	} else if !errors.Is(err, ErrNotRegistered) {
		return err
	}

	params := pipe.Parameters
	if params == nil {
		params = Parameters{}
	}
	doc, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters for %s: %w", pipe, err)
	}

	d := s.DB.Dialect()
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s) VALUES (%s, %s, %s, %s)",
		d.QuoteIdent(metaTable),
		d.QuoteIdent("connector_keys"), d.QuoteIdent("metric_key"),
		d.QuoteIdent("location_key"), d.QuoteIdent("parameters"),
		d.PlaceholderN(1), d.PlaceholderN(2), d.PlaceholderN(3), d.PlaceholderN(4),
	)
	var loc any
	if pipe.LocationKey != nil {
		loc = *pipe.LocationKey
	}
	if err := s.DB.Exec(ctx, query, pipe.ConnectorKeys, pipe.MetricKey, loc, string(doc)); err != nil {
		return fmt.Errorf("register %s: %w", pipe, err)
	}
	return nil
}

// Attributes re-reads the stored parameters for an identity. Callers that
// patch must merge onto this copy, never onto their own possibly-stale one.
func (s *Store) Attributes(ctx context.Context, pipe Pipe) (Parameters, error) {
	id, err := s.ID(ctx, pipe)
	if err != nil {
		return nil, err
	}

	d := s.DB.Dialect()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		d.QuoteIdent("parameters"), d.QuoteIdent(metaTable),
		d.QuoteIdent("pipe_id"), d.PlaceholderN(1),
	)
	v, err := s.DB.Value(ctx, query, id)
	if err != nil {
		return nil, err
	}
	return decodeParameters(v)
}

// Edit persists new parameters for a registered pipe. With patch=true the
// incoming document is deep-merged onto a freshly re-read copy of the stored
// parameters before writing; otherwise it replaces them.
func (s *Store) Edit(ctx context.Context, pipe Pipe, patch bool) error {
	id, err := s.ID(ctx, pipe)
	if err != nil {
		return err
	}

	params := map[string]any(pipe.Parameters)
	if patch {
		stored, err := s.Attributes(ctx, pipe)
		if err != nil {
			return err
		}
		params = DeepMerge(stored, pipe.Parameters)
	}

	doc, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters for %s: %w", pipe, err)
	}
	d := s.DB.Dialect()
	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		d.QuoteIdent(metaTable),
		d.QuoteIdent("parameters"), d.PlaceholderN(1),
		d.QuoteIdent("pipe_id"), d.PlaceholderN(2),
	)
	if err := s.DB.Exec(ctx, query, string(doc), id); err != nil {
		return fmt.Errorf("edit %s: %w", pipe, err)
	}
	return nil
}

// DeleteRegistration removes the metadata row. Dropping the data table is
// the orchestrator's job; the two are independent.
func (s *Store) DeleteRegistration(ctx context.Context, pipe Pipe) error {
	id, err := s.ID(ctx, pipe)
	if err != nil {
		return err
	}
	d := s.DB.Dialect()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.QuoteIdent(metaTable), d.QuoteIdent("pipe_id"), d.PlaceholderN(1))
	if err := s.DB.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete registration for %s: %w", pipe, err)
	}
	return nil
}

// decodeParameters handles per-flavor representations of the parameters
// column: native JSON (pgx hands back a map), text, or text that was itself
// JSON-encoded twice by an older writer.
func decodeParameters(v any) (Parameters, error) {
	switch t := v.(type) {
	case nil:
		return Parameters{}, nil
	case map[string]any:
		return Parameters(t), nil
	case []byte:
		return unmarshalParameters(t)
	case string:
		return unmarshalParameters([]byte(t))
	default:
		return nil, fmt.Errorf("unexpected parameters representation %T", v)
	}
}

func unmarshalParameters(raw []byte) (Parameters, error) {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err == nil {
		return Parameters(out), nil
	}
	// Double-encoded: a JSON string containing a JSON object.
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil && strings.HasPrefix(inner, "{") {
		if err := json.Unmarshal([]byte(inner), &out); err == nil {
			return Parameters(out), nil
		}
	}
	return nil, fmt.Errorf("parse parameters %q", raw)
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case []byte:
		var n int64
		_, err := fmt.Sscanf(string(t), "%d", &n)
		return n, err
	case string:
		var n int64
		_, err := fmt.Sscanf(t, "%d", &n)
		return n, err
	default:
		return 0, fmt.Errorf("unexpected id representation %T", v)
	}
}
