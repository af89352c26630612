// Package rowio loads row batches from JSON and CSV files. The JSON reader
// decodes token-wise so large batch files are not buffered twice; the CSV
// reader normalizes headers into column names and maps empty cells to NULL.
package rowio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"

	"pipesync/internal/sqlexec"
)

// ReadFile loads a batch from path, dispatching on the extension: ".csv" is
// parsed as CSV with a header row, everything else as JSON.
func ReadFile(path string) ([]sqlexec.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	return ReadJSON(f)
}

// ReadJSON decodes a batch from r. Three shapes are accepted:
//   - a root array of objects, one row each;
//   - an envelope object whose first array-of-objects field holds the rows
//     (remaining envelope fields are skipped);
//   - a bare object, which is a single row.
//
// Numbers decode as json.Number so integer and float columns keep their
// distinction for type inference.
func ReadJSON(r io.Reader) ([]sqlexec.Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read first token: %w", err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("batch root must be an object or array, got %T", tok)
	}

	switch delim {
	case '[':
		rows, err := decodeRowArray(dec)
		if err != nil {
			return nil, err
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read array end: %w", err)
		}
		return rows, nil

	case '{':
		return decodeEnvelope(dec)

	default:
		return nil, fmt.Errorf("batch root must be an object or array, got %q", delim)
	}
}

// decodeRowArray streams the elements of the current array. The opening '['
// has been consumed; the closing ']' is left for the caller.
func decodeRowArray(dec *json.Decoder) ([]sqlexec.Row, error) {
	var rows []sqlexec.Row
	for dec.More() {
		var row sqlexec.Row
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", len(rows)+1, err)
		}
		if row == nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeEnvelope walks a root object. The first field whose value is an
// array becomes the batch; if no array field appears, the object itself is
// one row.
func decodeEnvelope(dec *json.Decoder) ([]sqlexec.Row, error) {
	single := sqlexec.Row{}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read envelope key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("envelope key not a string, got %T", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read envelope value: %w", err)
		}

		if d, ok := valTok.(json.Delim); ok && d == '[' {
			rows, err := decodeRowArray(dec)
			if err != nil {
				return nil, err
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("read envelope array end: %w", err)
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return nil, fmt.Errorf("skip envelope key: %w", err)
				}
				if err := skipValue(dec); err != nil {
					return nil, err
				}
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("read envelope end: %w", err)
			}
			return rows, nil
		}

		val, err := materialize(dec, valTok)
		if err != nil {
			return nil, err
		}
		single[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read object end: %w", err)
	}
	if len(single) == 0 {
		return nil, nil
	}
	return []sqlexec.Row{single}, nil
}

// skipValue consumes the next value without materializing it.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("skip value: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{', '[':
		for dec.More() {
			if d == '{' {
				if _, err := dec.Token(); err != nil {
					return fmt.Errorf("skip key: %w", err)
				}
			}
			if err := skipValue(dec); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("skip end: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unexpected delimiter %q", d)
	}
}

// materialize builds a Go value whose first token has already been read.
func materialize(dec *json.Decoder, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read nested key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("nested key not a string, got %T", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read nested value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read nested object end: %w", err)
		}
		return m, nil

	case '[':
		var arr []any
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read nested element: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("read nested array end: %w", err)
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("unexpected delimiter %q", d)
	}
}

// ReadCSV parses a batch from r. The first record is the header; header
// names are trimmed, lowercased, and spaces become underscores so they line
// up with column names. Empty cells become NULL. Values stay strings; the
// sync path coerces them against stored types.
func ReadCSV(r io.Reader) ([]sqlexec.Row, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		cols[i] = strings.ReplaceAll(strings.ToLower(h), " ", "_")
	}

	var rows []sqlexec.Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make(sqlexec.Row, len(cols))
		for i, col := range cols {
			if i >= len(rec) {
				row[col] = nil
				continue
			}
			v := strings.TrimSpace(rec[i])
			if v == "" {
				row[col] = nil
			} else {
				row[col] = v
			}
		}
		rows = append(rows, row)
	}
}
