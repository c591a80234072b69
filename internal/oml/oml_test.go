package oml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	osirisErrors "github.com/osiris-data/osiris/errors"
)

func TestParse_NeedsOmittedVsEmpty(t *testing.T) {
	doc, err := Parse([]byte(`
oml_version: "1.0"
name: demo
steps:
  - id: a
    component: mysql.extractor
    config: {}
  - id: b
    component: duckdb.transformer
    config: {}
  - id: c
    component: filesystem.csv_writer
    needs: []
    config: {}
`))
	require.NoError(t, err)

	assert.Nil(t, doc.ResolvedNeeds(0))
	assert.False(t, doc.NeedsWasExplicit(0))

	// omitted means implicit dependency on the previous step
	assert.Equal(t, []string{"a"}, doc.ResolvedNeeds(1))

	// an explicit empty list means no dependency
	assert.True(t, doc.NeedsWasExplicit(2))
	assert.Empty(t, doc.ResolvedNeeds(2))
}

func TestParse_ScalarNeeds(t *testing.T) {
	doc, err := Parse([]byte(`
oml_version: "1.0"
name: demo
steps:
  - id: a
    component: mysql.extractor
    config: {}
  - id: b
    component: filesystem.csv_writer
    needs: a
    config: {}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, doc.ResolvedNeeds(1))
}

func TestParse_DuplicateStepID(t *testing.T) {
	_, err := Parse([]byte(`
oml_version: "1.0"
name: demo
steps:
  - id: a
    component: mysql.extractor
    config: {}
  - id: a
    component: filesystem.csv_writer
    config: {}
`))
	require.Error(t, err)
	var invalid *osirisErrors.InvalidOMLError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, `"a"`)
}

func TestParse_UnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte(`
oml_version: "99.0"
name: demo
steps: []
`))
	require.Error(t, err)
}

func TestParse_NormalizesNestedConfigMaps(t *testing.T) {
	doc, err := Parse([]byte(`
oml_version: "1.0"
name: demo
steps:
  - id: a
    component: mysql.extractor
    config:
      options:
        fetch_size: 100
`))
	require.NoError(t, err)

	options, ok := doc.Steps[0].Config["options"].(map[string]interface{})
	require.True(t, ok, "nested config maps must be string-keyed after parse")
	assert.Equal(t, 100, options["fetch_size"])
}
