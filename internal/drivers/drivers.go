// Package drivers holds the built-in driver implementations behind the
// component specs shipped with Osiris: the mysql extractor, the local SQL
// transformer, the CSV writer, and the supabase writer. Each satisfies the
// driverapi contract; only the external wire protocols they would speak in
// production are out of scope.
package drivers

import (
	"fmt"

	"github.com/osiris-data/osiris/internal/driverapi"
)

// Table is the in-memory frame drivers pass between steps: named columns
// plus row tuples in column order.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// RowMaps renders each row as a column->value map.
func (t *Table) RowMaps() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, t.RowCount())
	for _, row := range t.Rows {
		m := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// tableOutput is the conventional driver result: the frame under "rows"
// plus a rows_processed count the runner aggregates from.
func tableOutput(t *Table) driverapi.Result {
	return driverapi.Result{"rows": t, "rows_processed": t.RowCount()}
}

// inputTable extracts the "rows" frame from an upstream result.
func inputTable(upstream string, res driverapi.Result) (*Table, error) {
	raw, ok := res["rows"]
	if !ok {
		return nil, fmt.Errorf("upstream step %q produced no rows output", upstream)
	}
	t, ok := raw.(*Table)
	if !ok {
		return nil, fmt.Errorf("upstream step %q rows output has unexpected type %T", upstream, raw)
	}
	return t, nil
}

// singleInput returns the sole upstream frame, erroring when a step that
// consumes exactly one input got zero or several.
func singleInput(stepID string, inputs map[string]driverapi.Result) (*Table, string, error) {
	if len(inputs) != 1 {
		return nil, "", fmt.Errorf("step %q expects exactly one upstream input, got %d", stepID, len(inputs))
	}
	for upstream, res := range inputs {
		t, err := inputTable(upstream, res)
		return t, upstream, err
	}
	return nil, "", nil
}

func configString(config map[string]interface{}, key string) (string, error) {
	raw, ok := config[key]
	if !ok {
		return "", fmt.Errorf("config is missing required key %q", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("config key %q must be a non-empty string", key)
	}
	return s, nil
}

// Options parameterizes the driver set for one host process. The zero
// value is usable: the extractor then fails on use with a clear message,
// and the supabase writer gets its own private sink.
type Options struct {
	// MySQLSource supplies rows to mysql.extractor. The real wire protocol
	// lives outside the core, so the host (or a test) injects the source.
	MySQLSource RowSource

	// Sink receives rows from supabase.writer, keyed by table name.
	Sink *Sink
}

// NewResolver returns the factory resolver the driver registry consults
// for each component spec's x-runtime.driver symbol. Symbols match the
// component names the bundled specs declare.
func NewResolver(opts Options) driverapi.FactoryResolver {
	sink := opts.Sink
	if sink == nil {
		sink = NewSink()
	}
	factories := map[string]driverapi.Factory{
		"mysql.extractor": func() (driverapi.Driver, error) {
			return &MySQLExtractor{Source: opts.MySQLSource}, nil
		},
		"duckdb.transformer": func() (driverapi.Driver, error) {
			return &SQLTransformer{}, nil
		},
		"filesystem.csv_writer": func() (driverapi.Driver, error) {
			return &CSVWriter{}, nil
		},
		"supabase.writer": func() (driverapi.Driver, error) {
			return &SupabaseWriter{Sink: sink}, nil
		},
	}
	return func(symbol string) (driverapi.Factory, bool) {
		f, ok := factories[symbol]
		return f, ok
	}
}
