package drivers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osiris-data/osiris/internal/driverapi"
)

type fakeCtx struct {
	events  []string
	metrics map[string]float64
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{metrics: map[string]float64{}}
}

func (c *fakeCtx) LogEvent(name string, fields map[string]interface{}) {
	c.events = append(c.events, name)
}

func (c *fakeCtx) LogMetric(name string, value float64, unit string, stepID string) {
	c.metrics[name] += value
}

func (c *fakeCtx) GetDBConnection() (interface{}, error) {
	db, err := OpenSharedDB()
	return db, err
}

func actorsTable() *Table {
	return &Table{
		Columns: []string{"id", "name"},
		Rows: [][]interface{}{
			{1, "Tom"},
			{2, "Morgan"},
			{3, "Meryl"},
		},
	}
}

func TestMySQLExtractor_UsesInjectedSource(t *testing.T) {
	var gotQuery string
	d := &MySQLExtractor{Source: func(query string, conn map[string]interface{}) (*Table, error) {
		gotQuery = query
		return actorsTable(), nil
	}}

	ctx := newFakeCtx()
	res, err := d.Run("extract", map[string]interface{}{
		"query":               "SELECT * FROM actors",
		"resolved_connection": map[string]interface{}{"host": "db"},
	}, nil, ctx)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM actors", gotQuery)
	assert.Equal(t, 3, res["rows_processed"])
	assert.EqualValues(t, 3, ctx.metrics["rows_read"])
	assert.Contains(t, ctx.events, "extract_query_start")
	assert.Contains(t, ctx.events, "extract_query_complete")
}

func TestMySQLExtractor_NoSourceFails(t *testing.T) {
	d := &MySQLExtractor{}
	_, err := d.Run("extract", map[string]interface{}{"query": "SELECT 1"}, nil, newFakeCtx())
	require.Error(t, err)
}

func TestSQLTransformer_GroupByOverUpstreamFrame(t *testing.T) {
	movies := &Table{
		Columns: []string{"title", "director_id"},
		Rows: [][]interface{}{
			{"Heat", 1},
			{"Ronin", 1},
			{"Alien", 2},
			{"Blade", 2},
		},
	}
	inputs := map[string]driverapi.Result{
		"extract": tableOutput(movies),
	}

	d := &SQLTransformer{}
	res, err := d.Run("transform", map[string]interface{}{
		"query": `SELECT director_id, COUNT(*) AS movie_count FROM extract GROUP BY director_id ORDER BY director_id`,
	}, inputs, newFakeCtx())
	require.NoError(t, err)

	out := res["rows"].(*Table)
	require.Equal(t, 2, out.RowCount())
	assert.Equal(t, []string{"director_id", "movie_count"}, out.Columns)
	for _, row := range out.Rows {
		assert.EqualValues(t, 2, row[1])
	}
}

func TestSQLTransformer_RejectsBadIdentifier(t *testing.T) {
	inputs := map[string]driverapi.Result{
		`bad"step`: tableOutput(actorsTable()),
	}
	d := &SQLTransformer{}
	_, err := d.Run("transform", map[string]interface{}{"query": "SELECT 1"}, inputs, newFakeCtx())
	require.Error(t, err)
}

func TestCSVWriter_SortedHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	frame := &Table{
		Columns: []string{"name", "id"}, // deliberately unsorted
		Rows: [][]interface{}{
			{"Tom", 1},
			{"Morgan", 2},
			{"Meryl", 3},
		},
	}

	d := &CSVWriter{}
	ctx := newFakeCtx()
	res, err := d.Run("write", map[string]interface{}{"path": "out/actors.csv"},
		map[string]driverapi.Result{"extract": tableOutput(frame)}, ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res["rows_processed"])
	assert.EqualValues(t, 3, ctx.metrics["rows_written"])

	raw, err := os.ReadFile(filepath.Join(dir, "out", "actors.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,name", lines[0])
	assert.Equal(t, "1,Tom", lines[1])
}

func TestCSVWriter_RejectsEscapingPath(t *testing.T) {
	d := &CSVWriter{}
	_, err := d.Run("write", map[string]interface{}{"path": "../escape.csv"},
		map[string]driverapi.Result{"extract": tableOutput(actorsTable())}, newFakeCtx())
	require.Error(t, err)
}

func TestSupabaseWriter_AppendsToSink(t *testing.T) {
	sink := NewSink()
	d := &SupabaseWriter{Sink: sink}

	ctx := newFakeCtx()
	res, err := d.Run("write", map[string]interface{}{"table": "actors"},
		map[string]driverapi.Result{"extract": tableOutput(actorsTable())}, ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res["rows_processed"])

	rows := sink.Table("actors")
	require.Len(t, rows, 3)
	assert.Equal(t, "Tom", rows[0]["name"])
	assert.Equal(t, []string{"actors"}, sink.Tables())
	assert.EqualValues(t, 3, ctx.metrics["rows_written"])
}

func TestNewResolver_KnowsEveryBundledDriver(t *testing.T) {
	resolve := NewResolver(Options{})
	for _, symbol := range []string{"mysql.extractor", "duckdb.transformer", "filesystem.csv_writer", "supabase.writer"} {
		factory, ok := resolve(symbol)
		require.True(t, ok, symbol)
		driver, err := factory()
		require.NoError(t, err)
		require.NotNil(t, driver)
	}
	_, ok := resolve("nope.driver")
	assert.False(t, ok)
}
