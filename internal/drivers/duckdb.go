package drivers

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/osiris-data/osiris/internal/driverapi"
)

// SQLTransformer executes a SQL query over its upstream frames using an
// embedded in-process database. Each upstream frame is loaded as a table
// named after the producing step id, so a query can say
// `SELECT ... FROM extract GROUP BY ...`.
type SQLTransformer struct{}

// OpenSharedDB opens the single in-process database connection the runner
// hands out through ctx.GetDBConnection for the duration of one run.
// The caller closes it at run end.
func OpenSharedDB() (*sql.DB, error) {
	return sql.Open("sqlite3", ":memory:")
}

// Run implements driverapi.Driver.
func (d *SQLTransformer) Run(stepID string, config map[string]interface{}, inputs map[string]driverapi.Result, ctx driverapi.RunContext) (driverapi.Result, error) {
	query, err := configString(config, "query")
	if err != nil {
		return nil, fmt.Errorf("duckdb.transformer: %w", err)
	}

	db, owned, err := d.database(ctx)
	if err != nil {
		return nil, err
	}
	if owned {
		defer db.Close()
	}

	for upstream, res := range inputs {
		t, err := inputTable(upstream, res)
		if err != nil {
			return nil, fmt.Errorf("duckdb.transformer: %w", err)
		}
		if err := loadFrame(db, upstream, t); err != nil {
			return nil, fmt.Errorf("duckdb.transformer: loading input %q: %w", upstream, err)
		}
	}

	out, err := queryFrame(db, query)
	if err != nil {
		return nil, fmt.Errorf("duckdb.transformer: %w", err)
	}
	ctx.LogMetric("rows_processed", float64(out.RowCount()), "rows", stepID)
	return tableOutput(out), nil
}

// database prefers the run-scoped shared connection; a step running
// outside a full run (tests, ad-hoc invocation) gets a private one.
func (d *SQLTransformer) database(ctx driverapi.RunContext) (*sql.DB, bool, error) {
	if raw, err := ctx.GetDBConnection(); err == nil {
		if db, ok := raw.(*sql.DB); ok {
			return db, false, nil
		}
	}
	db, err := OpenSharedDB()
	if err != nil {
		return nil, false, fmt.Errorf("duckdb.transformer: opening database: %w", err)
	}
	return db, true, nil
}

func loadFrame(db *sql.DB, name string, t *Table) error {
	ident, err := quoteIdent(name)
	if err != nil {
		return err
	}
	cols := make([]string, len(t.Columns))
	holders := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		qc, err := quoteIdent(c)
		if err != nil {
			return err
		}
		cols[i] = qc
		holders[i] = "?"
	}

	if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", ident)); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(cols, ", "))); err != nil {
		return err
	}

	stmt, err := db.Prepare(fmt.Sprintf("INSERT INTO %s VALUES (%s)", ident, strings.Join(holders, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row has %d values, table %q has %d columns", len(row), name, len(t.Columns))
		}
		if _, err := stmt.Exec(row...); err != nil {
			return err
		}
	}
	return nil
}

func queryFrame(db *sql.DB, query string) (*Table, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &Table{Columns: cols}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	return out, rows.Err()
}

// quoteIdent double-quotes a SQL identifier, rejecting embedded quotes
// rather than escaping them -- step ids and column names never need them.
func quoteIdent(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `"'`) {
		return "", fmt.Errorf("invalid SQL identifier %q", name)
	}
	return `"` + name + `"`, nil
}
