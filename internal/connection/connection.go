// Package connection loads osiris_connections.yaml and resolves connection
// references to concrete, environment-substituted records.
package connection

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"

	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/jsonschema"
)

// Record is a resolved connection: the family/alias it came from plus its
// fields, with the internal "default" flag stripped.
type Record struct {
	Family string
	Alias  string
	Fields map[string]interface{}
}

type rawFile struct {
	Version     int                                          `yaml:"version"`
	Connections map[string]map[string]map[string]interface{} `yaml:"connections"`
}

// Store is a loaded, cached osiris_connections.yaml.
type Store struct {
	path string
	file rawFile
}

// Load reads and parses the connection store at path. The file is cached
// process-wide by the caller and treated as read-only after first load.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &osirisErrors.MissingConnectionsFileError{Path: path}
		}
		return nil, err
	}
	var f rawFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	for _, aliases := range f.Connections {
		for alias, fields := range aliases {
			if nf, ok := jsonschema.NormalizeYAML(fields).(map[string]interface{}); ok {
				aliases[alias] = nf
			}
		}
	}
	return &Store{path: path, file: f}, nil
}

var refRe = regexp.MustCompile(`^@([^.]+)\.(.+)$`)

// ParseReference parses ref of the form "@family.alias". It returns
// (false, _, _) for an empty ref. Multiple dots split on the first only —
// the remainder is the alias.
func ParseReference(ref string) (ok bool, family, alias string) {
	if ref == "" {
		return false, "", ""
	}
	m := refRe.FindStringSubmatch(ref)
	if m == nil {
		return false, "", ""
	}
	if m[1] == "" || m[2] == "" {
		return false, "", ""
	}
	return true, m[1], m[2]
}

// FormatReference renders (family, alias) back to canonical "@family.alias"
// form.
func FormatReference(family, alias string) string {
	return fmt.Sprintf("@%s.%s", family, alias)
}

// Resolve resolves family/alias (alias may be "") to a concrete, env-
// substituted connection record.
func (s *Store) Resolve(family, alias string) (*Record, error) {
	aliases, ok := s.file.Connections[family]
	if !ok {
		return nil, &osirisErrors.UnknownConnectionFamilyError{Family: family}
	}

	chosen := alias
	if chosen == "" {
		chosen = pickDefault(aliases)
		if chosen == "" {
			return nil, &osirisErrors.NoDefaultConnectionError{Family: family, Available: aliasNames(aliases)}
		}
	} else if _, ok := aliases[chosen]; !ok {
		return nil, &osirisErrors.UnknownConnectionAliasError{Family: family, Alias: chosen}
	}

	fields := aliases[chosen]
	resolved := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "default" {
			continue
		}
		sv, err := substitute(family, chosen, k, v)
		if err != nil {
			return nil, err
		}
		resolved[k] = sv
	}

	return &Record{Family: family, Alias: chosen, Fields: resolved}, nil
}

// pickDefault implements the selection rule: exactly one alias flagged
// default wins; else an alias literally named "default"; else "".
func pickDefault(aliases map[string]map[string]interface{}) string {
	var flagged string
	flaggedCount := 0
	for name, fields := range aliases {
		if isDefault, _ := fields["default"].(bool); isDefault {
			flagged = name
			flaggedCount++
		}
	}
	if flaggedCount == 1 {
		return flagged
	}
	if _, ok := aliases["default"]; ok {
		return "default"
	}
	return ""
}

func aliasNames(aliases map[string]map[string]interface{}) []string {
	out := make([]string, 0, len(aliases))
	for name := range aliases {
		out = append(out, name)
	}
	return out
}

var envRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substitute recursively replaces ${ENV_VAR} in strings, lists, and maps.
func substitute(family, alias, field string, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return substituteString(family, alias, field, val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			sv, err := substitute(family, alias, field, item)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			sv, err := substitute(family, alias, field+"."+k, item)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	default:
		return v, nil
	}
}

func substituteString(family, alias, field, s string) (string, error) {
	var substErr error
	out := envRe.ReplaceAllStringFunc(s, func(m string) string {
		name := envRe.FindStringSubmatch(m)[1]
		val, set := os.LookupEnv(name)
		if !set || val == "" {
			substErr = &osirisErrors.MissingEnvVarError{Family: family, Alias: alias, Field: field, Var: name}
			return ""
		}
		return val
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

// Mask renders a copy of r's fields with every value replaced by
// "***MASKED***" -- used when a connection record must appear in a log
// without ever carrying secret values.
func (r *Record) Mask() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Fields))
	for k := range r.Fields {
		out[k] = "***MASKED***"
	}
	return out
}

// String renders r for diagnostics without leaking field values.
func (r *Record) String() string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	return fmt.Sprintf("connection(%s.%s fields=%s)", r.Family, r.Alias, strings.Join(keys, ","))
}
