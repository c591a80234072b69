package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/manifest"
	"github.com/osiris-data/osiris/internal/registry"
)

const csvWriterSpec = `
name: filesystem.csv_writer
version: "1.0.0"
modes: [write]
capabilities:
  streaming: false
configSchema:
  type: object
  required: [path]
  properties:
    path:
      type: string
    connection:
      type: string
secrets: []
x-runtime:
  driver: filesystem.csv_writer
`

const mysqlExtractorSpec = `
name: mysql.extractor
version: "1.0.0"
modes: [extract]
configSchema:
  type: object
  required: [query, connection]
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
`

func writeSpec(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec.yaml"), []byte(content), 0o644))
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	root := t.TempDir()
	writeSpec(t, root, "csv_writer", csvWriterSpec)
	writeSpec(t, root, "mysql_extractor", mysqlExtractorSpec)
	reg, err := registry.LoadSpecs(root)
	require.NoError(t, err)
	return reg
}

func writeOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const linearPipeline = `
oml_version: "1.0"
name: linear-demo
params:
  limit:
    default: 100
steps:
  - id: extract_users
    component: mysql.extractor
    mode: extract
    config:
      connection: "@mysql.default"
      query: "SELECT * FROM users LIMIT ${params.limit}"
      password: "@mysql.default"
  - id: write_users
    component: filesystem.csv_writer
    mode: write
    config:
      path: "/tmp/out.csv"
`

func TestCompile_EmitsManifestAndIsDeterministic(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, linearPipeline)

	opts := Options{
		OMLPath:  omlPath,
		OutDir:   t.TempDir(),
		Mode:     ModeForce,
		Registry: reg,
	}

	res1, err := Compile(opts)
	require.NoError(t, err)
	require.Len(t, res1.Manifest.Steps, 2)
	assert.Equal(t, []string{"extract_users", "write_users"}, stepIDs(res1.Manifest.Steps))
	assert.Equal(t, []string{"extract_users"}, res1.Manifest.StepByID("write_users").Needs)

	opts2 := opts
	opts2.OutDir = t.TempDir()
	res2, err := Compile(opts2)
	require.NoError(t, err)

	assert.Equal(t, res1.OMLFingerprint, res2.OMLFingerprint)
	assert.Equal(t, res1.ParamsFingerprint, res2.ParamsFingerprint)
	assert.Equal(t, res1.Manifest.WithoutGeneratedAt(), res2.Manifest.WithoutGeneratedAt())
}

func TestCompile_RejectsInlineSecretValue(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, `
oml_version: "1.0"
name: leaky
steps:
  - id: extract_users
    component: mysql.extractor
    mode: extract
    config:
      connection: "@mysql.default"
      query: "SELECT 1"
      password: "hunter2"
`)

	_, err := Compile(Options{OMLPath: omlPath, OutDir: t.TempDir(), Mode: ModeForce, Registry: reg})
	require.Error(t, err)
	var secretErr *osirisErrors.InlineSecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "/password", secretErr.Pointer)
}

func TestCompile_AllowsReferenceExpressionAtSecretPointer(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, linearPipeline)

	_, err := Compile(Options{OMLPath: omlPath, OutDir: t.TempDir(), Mode: ModeForce, Registry: reg})
	require.NoError(t, err)
}

func TestCompile_UnknownComponent(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, `
oml_version: "1.0"
name: bad
steps:
  - id: s1
    component: nope.extractor
    config: {}
`)
	_, err := Compile(Options{OMLPath: omlPath, OutDir: t.TempDir(), Mode: ModeForce, Registry: reg})
	require.Error(t, err)
	assert.Equal(t, 2, osirisErrors.Classify(err))
}

func TestCompile_SchemaValidationFailure(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, `
oml_version: "1.0"
name: bad-schema
steps:
  - id: write_users
    component: filesystem.csv_writer
    mode: write
    config: {}
`)
	_, err := Compile(Options{OMLPath: omlPath, OutDir: t.TempDir(), Mode: ModeForce, Registry: reg})
	require.Error(t, err)
}

func TestCompile_GraphCycle(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, `
oml_version: "1.0"
name: cyclic
steps:
  - id: a
    component: filesystem.csv_writer
    mode: write
    needs: [b]
    config:
      path: "/tmp/a.csv"
  - id: b
    component: filesystem.csv_writer
    mode: write
    needs: [a]
    config:
      path: "/tmp/b.csv"
`)
	_, err := Compile(Options{OMLPath: omlPath, OutDir: t.TempDir(), Mode: ModeForce, Registry: reg})
	require.Error(t, err)
	var cycleErr *osirisErrors.GraphCycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestCompile_ModeNeverFailsWithoutCachedManifest(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, linearPipeline)

	_, err := Compile(Options{OMLPath: omlPath, OutDir: t.TempDir(), Mode: ModeNever, Registry: reg})
	require.Error(t, err)
	var cacheErr *osirisErrors.CacheMissForCompileNeverError
	require.ErrorAs(t, err, &cacheErr)
}

func TestCompile_ModeAutoReusesMatchingManifest(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, linearPipeline)
	outDir := t.TempDir()

	_, err := Compile(Options{OMLPath: omlPath, OutDir: outDir, Mode: ModeForce, Registry: reg})
	require.NoError(t, err)

	res, err := Compile(Options{OMLPath: omlPath, OutDir: outDir, Mode: ModeAuto, Registry: reg})
	require.NoError(t, err)
	assert.True(t, res.Reused)
}

func TestCompile_CLIParamOverridesDefault(t *testing.T) {
	reg := testRegistry(t)
	omlPath := writeOML(t, linearPipeline)

	res, err := Compile(Options{
		OMLPath:   omlPath,
		OutDir:    t.TempDir(),
		Mode:      ModeForce,
		Registry:  reg,
		CLIParams: map[string]string{"limit": "5"},
	})
	require.NoError(t, err)

	res2, err := Compile(Options{
		OMLPath:   omlPath,
		OutDir:    t.TempDir(),
		Mode:      ModeForce,
		Registry:  reg,
		CLIParams: map[string]string{"limit": "6"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, res.OMLFingerprint, res2.OMLFingerprint)
}

func stepIDs(steps []manifest.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}
