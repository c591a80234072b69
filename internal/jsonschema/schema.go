// Package jsonschema implements a pragmatic subset of JSON Schema
// Draft 2020-12 instance validation: type, enum, const, required,
// properties, additionalProperties, items, minimum/maximum,
// minLength/maxLength, and pattern. It is sized to what component
// configSchema documents actually need, not a full
// implementation of the draft.
package jsonschema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Schema is a JSON Schema node, decoded generically from YAML/JSON so it
// can represent any Draft 2020-12 document a component spec embeds.
type Schema map[string]interface{}

// ValidationError describes one instance/schema mismatch.
type ValidationError struct {
	Pointer string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pointer, e.Message)
}

// Validate checks instance against schema, returning every mismatch found
// (not just the first), each tagged with the JSON Pointer into instance
// where it occurred.
func Validate(schema Schema, instance interface{}) []*ValidationError {
	var errs []*ValidationError
	validateNode(schema, instance, "", &errs, 0)
	return errs
}

const maxDepth = 100

func validateNode(schema Schema, instance interface{}, pointer string, errs *[]*ValidationError, depth int) {
	if schema == nil {
		return
	}
	if depth > maxDepth {
		*errs = append(*errs, &ValidationError{Pointer: pointer, Message: "schema nesting exceeds maximum depth"})
		return
	}

	if want, ok := schema["const"]; ok {
		if fmt.Sprint(want) != fmt.Sprint(instance) {
			*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("must equal const %v", want)})
		}
	}

	if rawEnum, ok := schema["enum"]; ok {
		if enum, ok := rawEnum.([]interface{}); ok && len(enum) > 0 {
			matched := false
			for _, v := range enum {
				if fmt.Sprint(v) == fmt.Sprint(instance) {
					matched = true
					break
				}
			}
			if !matched {
				*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("must be one of %v", enum)})
			}
		}
	}

	if rawType, ok := schema["type"]; ok {
		if !matchesType(rawType, instance) {
			*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("must be of type %v, got %T", rawType, instance)})
			return
		}
	}

	switch v := instance.(type) {
	case map[string]interface{}:
		validateObject(schema, v, pointer, errs, depth)
	case []interface{}:
		validateArray(schema, v, pointer, errs, depth)
	case string:
		validateString(schema, v, pointer, errs)
	case int, int64, float64:
		validateNumber(schema, toFloat(v), pointer, errs)
	}
}

func validateObject(schema Schema, obj map[string]interface{}, pointer string, errs *[]*ValidationError, depth int) {
	if rawReq, ok := schema["required"].([]interface{}); ok {
		for _, r := range rawReq {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				*errs = append(*errs, &ValidationError{Pointer: pointer + "/" + name, Message: "required property missing"})
			}
		}
	}

	props, _ := schema["properties"].(map[string]interface{})
	for name, val := range obj {
		if props != nil {
			if rawSub, ok := props[name]; ok {
				sub, _ := rawSub.(map[string]interface{})
				validateNode(Schema(sub), val, pointer+"/"+name, errs, depth+1)
				continue
			}
		}
		if additional, ok := schema["additionalProperties"]; ok {
			if allowed, isBool := additional.(bool); isBool && !allowed {
				*errs = append(*errs, &ValidationError{Pointer: pointer + "/" + name, Message: "additional property not allowed"})
			} else if sub, isSchema := additional.(map[string]interface{}); isSchema {
				validateNode(Schema(sub), val, pointer+"/"+name, errs, depth+1)
			}
		}
	}
}

func validateArray(schema Schema, arr []interface{}, pointer string, errs *[]*ValidationError, depth int) {
	itemSchema, _ := schema["items"].(map[string]interface{})
	if itemSchema == nil {
		return
	}
	for i, v := range arr {
		validateNode(Schema(itemSchema), v, fmt.Sprintf("%s/%d", pointer, i), errs, depth+1)
	}
}

func validateString(schema Schema, s string, pointer string, errs *[]*ValidationError) {
	if minLen, ok := asInt(schema["minLength"]); ok && len(s) < minLen {
		*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("length %d below minLength %d", len(s), minLen)})
	}
	if maxLen, ok := asInt(schema["maxLength"]); ok && len(s) > maxLen {
		*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("length %d above maxLength %d", len(s), maxLen)})
	}
	if rawPattern, ok := schema["pattern"].(string); ok && rawPattern != "" {
		re, err := regexp.Compile(rawPattern)
		if err == nil && !re.MatchString(s) {
			*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("does not match pattern %q", rawPattern)})
		}
	}
}

func validateNumber(schema Schema, n float64, pointer string, errs *[]*ValidationError) {
	if min, ok := asFloat(schema["minimum"]); ok && n < min {
		*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("%v below minimum %v", n, min)})
	}
	if max, ok := asFloat(schema["maximum"]); ok && n > max {
		*errs = append(*errs, &ValidationError{Pointer: pointer, Message: fmt.Sprintf("%v above maximum %v", n, max)})
	}
}

func matchesType(want interface{}, instance interface{}) bool {
	types := typeList(want)
	for _, t := range types {
		if instanceMatchesSingleType(t, instance) {
			return true
		}
	}
	return len(types) == 0
}

func typeList(want interface{}) []string {
	switch v := want.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func instanceMatchesSingleType(t string, instance interface{}) bool {
	switch t {
	case "object":
		_, ok := instance.(map[string]interface{})
		return ok
	case "array":
		_, ok := instance.([]interface{})
		return ok
	case "string":
		_, ok := instance.(string)
		return ok
	case "boolean":
		_, ok := instance.(bool)
		return ok
	case "null":
		return instance == nil
	case "integer":
		switch n := instance.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "number":
		switch instance.(type) {
		case int, int64, float64:
			return true
		}
		return false
	default:
		return true
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// IsValidJSONSchema performs a structural sanity check on schema itself —
// the invariant that configSchema is a valid JSON Schema document.
// It checks that "type", "properties", and "required" (when present) carry
// the shapes this package understands, following the structural-validation
// style of a Draft 2020-12 schema checker rather than instance validation.
func IsValidJSONSchema(schema Schema) error {
	if schema == nil {
		return nil
	}
	if rawProps, ok := schema["properties"]; ok {
		props, ok := rawProps.(map[string]interface{})
		if !ok {
			return fmt.Errorf("properties must be an object")
		}
		for name, rawSub := range props {
			sub, ok := rawSub.(map[string]interface{})
			if !ok {
				return fmt.Errorf("properties.%s must be an object", name)
			}
			if err := IsValidJSONSchema(Schema(sub)); err != nil {
				return fmt.Errorf("properties.%s: %w", name, err)
			}
		}
	}
	if rawReq, ok := schema["required"]; ok {
		if _, ok := rawReq.([]interface{}); !ok {
			return fmt.Errorf("required must be an array")
		}
	}
	if rawType, ok := schema["type"]; ok {
		switch rawType.(type) {
		case string, []interface{}:
		default:
			return fmt.Errorf("type must be a string or array of strings")
		}
	}
	return nil
}

// SortedRequired returns schema's "required" list, sorted, for use in the
// component-registry fingerprint projection.
func SortedRequired(schema Schema) []string {
	rawReq, _ := schema["required"].([]interface{})
	out := make([]string, 0, len(rawReq))
	for _, r := range rawReq {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	sortStrings(out)
	return out
}

// SortedPropertyNames returns schema's property names, sorted.
func SortedPropertyNames(schema Schema) []string {
	props, _ := schema["properties"].(map[string]interface{})
	out := make([]string, 0, len(props))
	for name := range props {
		out = append(out, name)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// PointerGet resolves a JSON Pointer (e.g. "/password" or
// "/resolved_connection/password") against a decoded config map, the
// pointer-evaluation utility the compiler and runner share for
// secret-path handling.
func PointerGet(config map[string]interface{}, pointer string) (interface{}, bool) {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return config, true
	}
	parts := strings.Split(pointer, "/")
	var cur interface{} = config
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// PointerSet writes value at pointer within config. Intermediate maps are
// not created: if a parent segment is missing or not a map, nothing is
// written. Used to mask secret values when writing cleaned_config.json.
func PointerSet(config map[string]interface{}, pointer string, value interface{}) {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return
	}
	parts := strings.Split(pointer, "/")
	cur := config
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
}

// NormalizeYAML rewrites the map[interface{}]interface{} nodes yaml.v2
// produces for nested mappings into map[string]interface{}, recursively.
// Every YAML document that later flows through pointer evaluation, schema
// validation, or encoding/json must pass through this first.
func NormalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = NormalizeYAML(item)
		}
		return out
	case map[string]interface{}:
		for k, item := range val {
			val[k] = NormalizeYAML(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = NormalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
