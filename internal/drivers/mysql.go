package drivers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/osiris-data/osiris/internal/driverapi"
)

// RowSource supplies the rows a query yields against a resolved
// connection. The production source speaks the MySQL wire protocol;
// hosts and tests inject an in-memory one.
type RowSource func(query string, conn map[string]interface{}) (*Table, error)

// MySQLExtractor runs a SQL query against its resolved connection and
// emits the result frame.
type MySQLExtractor struct {
	Source RowSource
}

// Run implements driverapi.Driver.
func (d *MySQLExtractor) Run(stepID string, config map[string]interface{}, inputs map[string]driverapi.Result, ctx driverapi.RunContext) (driverapi.Result, error) {
	if d.Source == nil {
		return nil, fmt.Errorf("mysql.extractor: no row source configured for this process")
	}
	query, err := configString(config, "query")
	if err != nil {
		return nil, fmt.Errorf("mysql.extractor: %w", err)
	}
	conn, _ := config["resolved_connection"].(map[string]interface{})

	queryID := uuid.NewString()
	ctx.LogEvent("extract_query_start", map[string]interface{}{
		"step_id":  stepID,
		"query_id": queryID,
	})

	table, err := d.Source(query, conn)
	if err != nil {
		ctx.LogEvent("extract_query_complete", map[string]interface{}{
			"step_id":  stepID,
			"query_id": queryID,
			"ok":       false,
		})
		return nil, fmt.Errorf("mysql.extractor: query failed: %w", err)
	}

	ctx.LogEvent("extract_query_complete", map[string]interface{}{
		"step_id":  stepID,
		"query_id": queryID,
		"ok":       true,
		"rows":     table.RowCount(),
	})
	ctx.LogMetric("rows_read", float64(table.RowCount()), "rows", stepID)
	return tableOutput(table), nil
}
