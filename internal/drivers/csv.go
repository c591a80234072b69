package drivers

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/osiris-data/osiris/internal/driverapi"
	"github.com/osiris-data/osiris/internal/pathutil"
)

// CSVWriter writes its upstream frame to a CSV file under the working
// directory. The header lists columns in lexicographic order and every
// data row follows that order, so output is stable regardless of the
// upstream frame's column order.
type CSVWriter struct{}

// Run implements driverapi.Driver.
func (d *CSVWriter) Run(stepID string, config map[string]interface{}, inputs map[string]driverapi.Result, ctx driverapi.RunContext) (driverapi.Result, error) {
	template, err := configString(config, "path")
	if err != nil {
		return nil, fmt.Errorf("filesystem.csv_writer: %w", err)
	}

	table, upstream, err := singleInput(stepID, inputs)
	if err != nil {
		return nil, fmt.Errorf("filesystem.csv_writer: %w", err)
	}

	rendered, err := pathutil.RenderPath(template, pathutil.Context{
		Values:    map[string]string{"step_id": stepID},
		SessionID: uuid.NewString(),
	}, "", pathutil.OSStat)
	if err != nil {
		return nil, err
	}

	if err := writeCSV(rendered, table); err != nil {
		return nil, fmt.Errorf("filesystem.csv_writer: writing %s: %w", rendered, err)
	}

	ctx.LogEvent("write_complete", map[string]interface{}{
		"step_id":   stepID,
		"from_step": upstream,
		"path":      rendered,
		"rows":      table.RowCount(),
	})
	ctx.LogMetric("rows_written", float64(table.RowCount()), "rows", stepID)
	return driverapi.Result{"rows_processed": table.RowCount(), "path": rendered}, nil
}

func writeCSV(path string, t *Table) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := append([]string(nil), t.Columns...)
	sort.Strings(header)
	colIndex := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		colIndex[c] = i
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range t.Rows {
		for i, col := range header {
			v := row[colIndex[col]]
			if v == nil {
				record[i] = ""
				continue
			}
			record[i] = fmt.Sprint(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
