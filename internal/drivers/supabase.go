package drivers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/osiris-data/osiris/internal/driverapi"
)

// Sink collects rows written by supabase.writer, keyed by table name. It
// stands in for the hosted REST endpoint, whose wire calls live outside
// the core; everything up to the network boundary (table routing, row
// accounting) behaves as in production. Each write appends the whole frame
// in one call; rows are not batched.
type Sink struct {
	mu     sync.Mutex
	tables map[string][]map[string]interface{}
}

// NewSink builds an empty sink.
func NewSink() *Sink {
	return &Sink{tables: make(map[string][]map[string]interface{})}
}

func (s *Sink) append(table string, rows []map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rows...)
}

// Table returns the rows accumulated for name.
func (s *Sink) Table(name string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.tables[name]...)
}

// Tables lists every table name written so far, sorted.
func (s *Sink) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SupabaseWriter appends its upstream frame to the configured table of
// its sink.
type SupabaseWriter struct {
	Sink *Sink
}

// Run implements driverapi.Driver.
func (d *SupabaseWriter) Run(stepID string, config map[string]interface{}, inputs map[string]driverapi.Result, ctx driverapi.RunContext) (driverapi.Result, error) {
	tableName, err := configString(config, "table")
	if err != nil {
		return nil, fmt.Errorf("supabase.writer: %w", err)
	}
	if d.Sink == nil {
		return nil, fmt.Errorf("supabase.writer: no sink configured for this process")
	}

	frame, upstream, err := singleInput(stepID, inputs)
	if err != nil {
		return nil, fmt.Errorf("supabase.writer: %w", err)
	}

	d.Sink.append(tableName, frame.RowMaps())

	ctx.LogEvent("write_complete", map[string]interface{}{
		"step_id":   stepID,
		"from_step": upstream,
		"table":     tableName,
		"rows":      frame.RowCount(),
	})
	ctx.LogMetric("rows_written", float64(frame.RowCount()), "rows", stepID)
	return driverapi.Result{"rows_processed": frame.RowCount(), "table": tableName}, nil
}
