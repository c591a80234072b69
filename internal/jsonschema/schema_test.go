package jsonschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiredAndType(t *testing.T) {
	schema := Schema{
		"type":     "object",
		"required": []interface{}{"query"},
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
	}
	errs := Validate(schema, map[string]interface{}{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "/query")

	errs = Validate(schema, map[string]interface{}{"query": "SELECT 1"})
	assert.Empty(t, errs)

	errs = Validate(schema, map[string]interface{}{"query": 5})
	require.Len(t, errs, 1)
}

func TestValidate_NestedArrayItems(t *testing.T) {
	schema := Schema{
		"type": "object",
		"properties": map[string]interface{}{
			"columns": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
	}
	errs := Validate(schema, map[string]interface{}{"columns": []interface{}{"a", 1}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Pointer, "/columns/1")
}

func TestPointerGetSet(t *testing.T) {
	cfg := map[string]interface{}{
		"resolved_connection": map[string]interface{}{
			"password": "hunter2",
		},
	}
	v, ok := PointerGet(cfg, "/resolved_connection/password")
	require.True(t, ok)
	assert.Equal(t, "hunter2", v)

	PointerSet(cfg, "/resolved_connection/password", "***MASKED***")
	v, _ = PointerGet(cfg, "/resolved_connection/password")
	assert.Equal(t, "***MASKED***", v)
}

func TestIsValidJSONSchema(t *testing.T) {
	assert.NoError(t, IsValidJSONSchema(Schema{"type": "object"}))
	assert.Error(t, IsValidJSONSchema(Schema{"type": 5}))
}

func TestNormalizeYAML_RewritesNestedMaps(t *testing.T) {
	in := map[string]interface{}{
		"properties": map[interface{}]interface{}{
			"query": map[interface{}]interface{}{"type": "string"},
		},
		"list": []interface{}{map[interface{}]interface{}{"a": 1}},
	}
	out := NormalizeYAML(in).(map[string]interface{})

	props, ok := out["properties"].(map[string]interface{})
	require.True(t, ok)
	_, ok = props["query"].(map[string]interface{})
	assert.True(t, ok)

	list := out["list"].([]interface{})
	_, ok = list[0].(map[string]interface{})
	assert.True(t, ok)
}
