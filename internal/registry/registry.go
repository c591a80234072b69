// Package registry loads component specs from a components/ directory and
// computes their deterministic fingerprint.
package registry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/osiris-data/osiris/internal/jsonschema"
	"github.com/osiris-data/osiris/logger"
)

// Spec is a component spec document.
type Spec struct {
	Name         string                 `yaml:"name" json:"name"`
	Version      string                 `yaml:"version" json:"version"`
	Modes        []string               `yaml:"modes" json:"modes"`
	Capabilities map[string]bool        `yaml:"capabilities" json:"capabilities"`
	ConfigSchema jsonschema.Schema      `yaml:"configSchema" json:"configSchema"`
	Secrets      []string               `yaml:"secrets" json:"secrets"`
	XRuntime     map[string]interface{} `yaml:"x-runtime" json:"x-runtime"`
	LLMHints     map[string]interface{} `yaml:"x-llm-hints" json:"-"`
}

// Driver returns the x-runtime.driver symbol, or "" if the spec declares
// none.
func (s *Spec) Driver() string {
	if s.XRuntime == nil {
		return ""
	}
	d, _ := s.XRuntime["driver"].(string)
	return d
}

// HasMode reports whether mode is among the spec's declared modes.
func (s *Spec) HasMode(mode string) bool {
	for _, m := range s.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Family returns the dotted-prefix namespace of the component name
// ("mysql.extractor" -> "mysql").
func Family(componentName string) string {
	for i := 0; i < len(componentName); i++ {
		if componentName[i] == '.' {
			return componentName[:i]
		}
	}
	return componentName
}

// Registry is the loaded, name-sorted set of component specs.
type Registry struct {
	specs map[string]*Spec
	order []string
}

// LoadSpecs scans each immediate subdirectory of componentsRoot for a
// spec.yaml or spec.json (the first one wins), validates it against the
// bundled meta-schema, and returns a deterministic (name-sorted) registry.
// Invalid specs are logged and skipped; they never abort startup.
func LoadSpecs(componentsRoot string) (*Registry, error) {
	entries, err := os.ReadDir(componentsRoot)
	if err != nil {
		return nil, fmt.Errorf("reading components root %s: %w", componentsRoot, err)
	}

	reg := &Registry{specs: make(map[string]*Spec)}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(componentsRoot, e.Name())
		spec, err := loadOne(dir)
		if err != nil {
			logger.L.WithField("dir", dir).WithError(err).Warn("osiris: skipping invalid component spec")
			continue
		}
		if spec == nil {
			continue // no spec.yaml/spec.json in this subdirectory
		}
		if err := validateMeta(spec); err != nil {
			logger.L.WithField("component", spec.Name).WithError(err).Warn("osiris: component spec failed meta-schema validation, skipping")
			continue
		}
		reg.specs[spec.Name] = spec
	}

	reg.order = make([]string, 0, len(reg.specs))
	for name := range reg.specs {
		reg.order = append(reg.order, name)
	}
	sort.Strings(reg.order)
	return reg, nil
}

func loadOne(dir string) (*Spec, error) {
	for _, name := range []string{"spec.yaml", "spec.json"} {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var spec Spec
		if name == "spec.json" {
			if err := json.Unmarshal(raw, &spec); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(raw, &spec); err != nil {
				return nil, err
			}
			if cs, ok := jsonschema.NormalizeYAML(map[string]interface{}(spec.ConfigSchema)).(map[string]interface{}); ok {
				spec.ConfigSchema = cs
			}
			if xr, ok := jsonschema.NormalizeYAML(spec.XRuntime).(map[string]interface{}); ok {
				spec.XRuntime = xr
			}
			if lh, ok := jsonschema.NormalizeYAML(spec.LLMHints).(map[string]interface{}); ok {
				spec.LLMHints = lh
			}
		}
		return &spec, nil
	}
	return nil, nil
}

// validateMeta checks spec against the bundled component meta-schema:
// name and version are required, modes is a non-empty subset of the known
// mode vocabulary, and configSchema is itself a structurally valid JSON
// Schema document.
func validateMeta(spec *Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("spec missing name")
	}
	if spec.Version == "" {
		return fmt.Errorf("spec %q missing version", spec.Name)
	}
	if len(spec.Modes) == 0 {
		return fmt.Errorf("spec %q declares no modes", spec.Name)
	}
	known := map[string]bool{"extract": true, "transform": true, "write": true, "discover": true, "analyze": true}
	for _, m := range spec.Modes {
		if !known[m] {
			return fmt.Errorf("spec %q declares unknown mode %q", spec.Name, m)
		}
	}
	if err := jsonschema.IsValidJSONSchema(spec.ConfigSchema); err != nil {
		return fmt.Errorf("spec %q: configSchema invalid: %w", spec.Name, err)
	}
	for _, ptr := range spec.Secrets {
		if ptr == "" {
			return fmt.Errorf("spec %q: empty secret pointer", spec.Name)
		}
	}
	return nil
}

// Get returns the spec for name, or (nil, false).
func (r *Registry) Get(name string) (*Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all component names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// All returns every loaded spec, in name order.
func (r *Registry) All() []*Spec {
	out := make([]*Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// fingerprintProjection is the canonical per-component shape the registry
// fingerprint hashes over.
type fingerprintProjection struct {
	Version  string   `json:"version"`
	Modes    []string `json:"modes"`
	Required []string `json:"required"`
	Props    []string `json:"properties"`
}

// Fingerprint computes a SHA-256 over the canonical projection
// {name: {version, sorted(modes), sorted(required), sorted(properties)}}.
func (r *Registry) Fingerprint() string {
	projection := make(map[string]fingerprintProjection, len(r.specs))
	for name, spec := range r.specs {
		modes := append([]string(nil), spec.Modes...)
		sort.Strings(modes)
		projection[name] = fingerprintProjection{
			Version:  spec.Version,
			Modes:    modes,
			Required: jsonschema.SortedRequired(spec.ConfigSchema),
			Props:    jsonschema.SortedPropertyNames(spec.ConfigSchema),
		}
	}
	raw, _ := json.Marshal(projection) // map[string]... marshals with sorted keys
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)
}
