package drivers_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/compiler"
	"github.com/osiris-data/osiris/internal/connection"
	"github.com/osiris-data/osiris/internal/driverapi"
	"github.com/osiris-data/osiris/internal/drivers"
	"github.com/osiris-data/osiris/internal/registry"
	"github.com/osiris-data/osiris/internal/runner"
	"github.com/osiris-data/osiris/internal/session"
)

var componentSpecs = map[string]string{
	"mysql_extractor": `
name: mysql.extractor
version: "1.0.0"
modes: [extract, discover]
configSchema:
  type: object
  required: [query]
  properties:
    query:
      type: string
    connection:
      type: string
    password:
      type: string
secrets: ["/password"]
x-runtime:
  driver: mysql.extractor
`,
	"duckdb_transformer": `
name: duckdb.transformer
version: "1.0.0"
modes: [transform]
configSchema:
  type: object
  required: [query]
  properties:
    query:
      type: string
secrets: []
x-runtime:
  driver: duckdb.transformer
`,
	"csv_writer": `
name: filesystem.csv_writer
version: "1.0.0"
modes: [write]
configSchema:
  type: object
  required: [path]
  properties:
    path:
      type: string
secrets: []
x-runtime:
  driver: filesystem.csv_writer
`,
	"supabase_writer": `
name: supabase.writer
version: "1.0.0"
modes: [write]
configSchema:
  type: object
  required: [table]
  properties:
    table:
      type: string
    connection:
      type: string
secrets: []
x-runtime:
  driver: supabase.writer
`,
}

func loadTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	root := t.TempDir()
	for dir, spec := range componentSpecs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "spec.yaml"), []byte(spec), 0o644))
	}
	reg, err := registry.LoadSpecs(root)
	require.NoError(t, err)
	return reg
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const connectionsYAML = `
version: 1
connections:
  mysql:
    primary:
      host: db.internal
      user: osiris
      password: ${MYSQL_PASSWORD}
      default: true
    secondary:
      host: replica.internal
      user: osiris
      password: ${MYSQL_PASSWORD}
  supabase:
    default:
      url: https://demo.supabase.co
      service_role_key: ${SUPABASE_KEY}
`

func actorsSource(t *testing.T) drivers.RowSource {
	t.Helper()
	return func(query string, conn map[string]interface{}) (*drivers.Table, error) {
		return &drivers.Table{
			Columns: []string{"id", "name"},
			Rows:    [][]interface{}{{1, "Tom"}, {2, "Morgan"}, {3, "Meryl"}},
		}, nil
	}
}

func TestEndToEnd_LinearMySQLToCSV(t *testing.T) {
	reg := loadTestRegistry(t)
	work := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(work))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	t.Setenv("MYSQL_PASSWORD", "hunter2")

	omlPath := writeFile(t, work, "pipeline.yaml", `
oml_version: "1.0"
name: actors-to-csv
steps:
  - id: extract
    component: mysql.extractor
    mode: extract
    config:
      connection: "@mysql.primary"
      query: "SELECT * FROM actors"
  - id: write
    component: filesystem.csv_writer
    mode: write
    needs: [extract]
    config:
      path: "out/actors.csv"
`)
	connPath := writeFile(t, work, "osiris_connections.yaml", connectionsYAML)

	outDir := filepath.Join(work, "compiled")
	res, err := compiler.Compile(compiler.Options{
		OMLPath: omlPath, OutDir: outDir, Mode: compiler.ModeForce, Registry: reg,
	})
	require.NoError(t, err)
	require.Len(t, res.Manifest.Steps, 2)
	assert.Equal(t, "extract", res.Manifest.Steps[0].ID)

	sessRoot := filepath.Join(work, "sessions")
	sess, err := session.Open(sessRoot, "run", "e2e-linear", nil)
	require.NoError(t, err)

	store, err := connection.Load(connPath)
	require.NoError(t, err)

	dreg := driverapi.BuildFromSpecs(reg.All(), drivers.NewResolver(drivers.Options{
		MySQLSource: actorsSource(t),
	}))

	ok, err := runner.Run(runner.Options{
		ManifestPath: filepath.Join(outDir, "manifest.yaml"),
		Drivers:      dreg,
		Registry:     reg,
		Connections:  connection.NewResolver(store, sess),
		Log:          sess,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, sess.Close())

	raw, err := os.ReadFile(filepath.Join(work, "out", "actors.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,Tom\n2,Morgan\n3,Meryl\n", string(raw))

	summary, err := session.ReadSession(sessRoot, "run", "e2e-linear")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, session.StatusSuccess, summary.Status)
	assert.Equal(t, len(res.Manifest.Steps), summary.StepsTotal)
	assert.Equal(t, summary.StepsTotal, summary.StepsOK)
	assert.EqualValues(t, 3, summary.RowsOut)
	assert.EqualValues(t, 3, summary.RowsIn)
}

func TestEndToEnd_TransformPipelineCountsWriterRowsOnly(t *testing.T) {
	reg := loadTestRegistry(t)
	work := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(work))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	t.Setenv("MYSQL_PASSWORD", "hunter2")
	t.Setenv("SUPABASE_KEY", "sb-key")

	omlPath := writeFile(t, work, "pipeline.yaml", `
oml_version: "1.0"
name: movies-rollup
steps:
  - id: extract
    component: mysql.extractor
    mode: extract
    config:
      connection: "@mysql.primary"
      query: "SELECT title, director_id FROM movies"
  - id: transform
    component: duckdb.transformer
    mode: transform
    needs: [extract]
    config:
      query: "SELECT director_id, COUNT(*) AS movie_count FROM extract GROUP BY director_id"
  - id: write
    component: supabase.writer
    mode: write
    needs: [transform]
    config:
      connection: "@supabase.default"
      table: director_counts
`)
	connPath := writeFile(t, work, "osiris_connections.yaml", connectionsYAML)

	outDir := filepath.Join(work, "compiled")
	_, err = compiler.Compile(compiler.Options{
		OMLPath: omlPath, OutDir: outDir, Mode: compiler.ModeForce, Registry: reg,
	})
	require.NoError(t, err)

	sessRoot := filepath.Join(work, "sessions")
	sess, err := session.Open(sessRoot, "run", "e2e-rollup", nil)
	require.NoError(t, err)

	store, err := connection.Load(connPath)
	require.NoError(t, err)

	sink := drivers.NewSink()
	moviesSource := func(query string, conn map[string]interface{}) (*drivers.Table, error) {
		return &drivers.Table{
			Columns: []string{"title", "director_id"},
			Rows:    [][]interface{}{{"Heat", 1}, {"Ronin", 1}, {"Alien", 2}, {"Blade", 2}},
		}, nil
	}
	dreg := driverapi.BuildFromSpecs(reg.All(), drivers.NewResolver(drivers.Options{
		MySQLSource: moviesSource,
		Sink:        sink,
	}))

	ok, err := runner.Run(runner.Options{
		ManifestPath: filepath.Join(outDir, "manifest.yaml"),
		Drivers:      dreg,
		Registry:     reg,
		Connections:  connection.NewResolver(store, sess),
		Log:          sess,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, sess.Close())

	require.Len(t, sink.Table("director_counts"), 2)
	for _, row := range sink.Table("director_counts") {
		assert.EqualValues(t, 2, row["movie_count"])
	}

	// cleanup_complete carries the writer total only, so rows_out is 2,
	// not extractor+transformer+writer summed.
	summary, err := session.ReadSession(sessRoot, "run", "e2e-rollup")
	require.NoError(t, err)
	assert.Equal(t, session.StatusSuccess, summary.Status)
	assert.EqualValues(t, 2, summary.RowsOut)
	assert.EqualValues(t, 4, summary.RowsIn)
	assert.Contains(t, summary.Tables, "director_counts")
}

func TestEndToEnd_MissingEnvVarAbortsBeforeAnyStep(t *testing.T) {
	reg := loadTestRegistry(t)
	work := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(work))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	os.Unsetenv("MYSQL_PASSWORD")

	omlPath := writeFile(t, work, "pipeline.yaml", `
oml_version: "1.0"
name: no-password
steps:
  - id: extract
    component: mysql.extractor
    mode: extract
    config:
      connection: "@mysql.primary"
      query: "SELECT 1"
`)
	connPath := writeFile(t, work, "osiris_connections.yaml", connectionsYAML)

	outDir := filepath.Join(work, "compiled")
	_, err = compiler.Compile(compiler.Options{
		OMLPath: omlPath, OutDir: outDir, Mode: compiler.ModeForce, Registry: reg,
	})
	require.NoError(t, err)

	store, err := connection.Load(connPath)
	require.NoError(t, err)

	dreg := driverapi.BuildFromSpecs(reg.All(), drivers.NewResolver(drivers.Options{
		MySQLSource: actorsSource(t),
	}))

	ok, err := runner.Run(runner.Options{
		ManifestPath: filepath.Join(outDir, "manifest.yaml"),
		Drivers:      dreg,
		Registry:     reg,
		Connections:  connection.NewResolver(store, nil),
	})
	require.Error(t, err)
	assert.False(t, ok)

	var envErr *osirisErrors.MissingEnvVarError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "MYSQL_PASSWORD", envErr.Var)
	assert.Equal(t, "mysql", envErr.Family)
	assert.Equal(t, "primary", envErr.Alias)
}

func TestEndToEnd_DefaultAndExplicitAliasSelection(t *testing.T) {
	work := t.TempDir()
	connPath := writeFile(t, work, "osiris_connections.yaml", connectionsYAML)
	t.Setenv("MYSQL_PASSWORD", "hunter2")

	store, err := connection.Load(connPath)
	require.NoError(t, err)

	rec, err := store.Resolve("mysql", "")
	require.NoError(t, err)
	assert.Equal(t, "primary", rec.Alias)
	assert.Equal(t, "db.internal", rec.Fields["host"])

	rec, err = store.Resolve("mysql", "secondary")
	require.NoError(t, err)
	assert.Equal(t, "secondary", rec.Alias)
	assert.Equal(t, "replica.internal", rec.Fields["host"])
}
