// Package oml loads and structurally validates Osiris Markup Language
// pipeline documents.
package oml

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/jsonschema"
)

// SupportedVersions lists the oml_version strings this build understands.
var SupportedVersions = map[string]bool{
	"0.1.0": true,
	"1.0":   true,
	"2.0":   true,
}

// Param declares a pipeline parameter and its default value.
type Param struct {
	Default interface{} `yaml:"default"`
}

// Profile overrides parameter values for a named environment.
type Profile struct {
	Params map[string]interface{} `yaml:"params"`
}

// Step is one node of the pipeline graph.
type Step struct {
	ID        string                 `yaml:"id"`
	Component string                 `yaml:"component"`
	Mode      string                 `yaml:"mode"`
	Needs     *NeedsList             `yaml:"needs"`
	Config    map[string]interface{} `yaml:"config"`
}

// NeedsList distinguishes an omitted `needs` field (nil) from an explicit
// empty list ([]): missing means "implicit dependency on the
// previous step"; [] means "no dependency."
type NeedsList struct {
	Values []string
}

// UnmarshalYAML accepts both list and scalar forms, and records whether the
// field was present at all (a nil *NeedsList means "omitted").
func (n *NeedsList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []string
	if err := unmarshal(&list); err == nil {
		n.Values = list
		return nil
	}
	var single string
	if err := unmarshal(&single); err == nil {
		n.Values = []string{single}
		return nil
	}
	return fmt.Errorf("needs: expected a list or string")
}

// Document is a parsed OML pipeline file.
type Document struct {
	OMLVersion string             `yaml:"oml_version"`
	Name       string             `yaml:"name"`
	Params     map[string]Param   `yaml:"params"`
	Profiles   map[string]Profile `yaml:"profiles"`
	Steps      []Step             `yaml:"steps"`
}

// Load parses path as an OML document and checks the structural
// invariants: known oml_version, unique step ids. Component and
// mode validity are checked later once the component registry is
// available (see internal/compiler).
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &osirisErrors.InvalidOMLError{Reason: err.Error()}
	}
	return Parse(raw)
}

// Parse parses raw YAML bytes into a Document and validates structural
// invariants.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &osirisErrors.InvalidOMLError{Reason: err.Error()}
	}
	for i := range doc.Steps {
		if cfg, ok := jsonschema.NormalizeYAML(doc.Steps[i].Config).(map[string]interface{}); ok {
			doc.Steps[i].Config = cfg
		}
	}
	for name, p := range doc.Params {
		p.Default = jsonschema.NormalizeYAML(p.Default)
		doc.Params[name] = p
	}
	for name, prof := range doc.Profiles {
		if params, ok := jsonschema.NormalizeYAML(prof.Params).(map[string]interface{}); ok {
			prof.Params = params
			doc.Profiles[name] = prof
		}
	}

	var merr *multierror.Error
	if !SupportedVersions[doc.OMLVersion] {
		merr = multierror.Append(merr, fmt.Errorf("unsupported oml_version %q", doc.OMLVersion))
	}

	seen := make(map[string]bool, len(doc.Steps))
	for _, s := range doc.Steps {
		if s.ID == "" {
			merr = multierror.Append(merr, fmt.Errorf("step missing id"))
			continue
		}
		if seen[s.ID] {
			merr = multierror.Append(merr, &osirisErrors.DuplicateStepIDError{StepID: s.ID})
			continue
		}
		seen[s.ID] = true
	}

	if merr.ErrorOrNil() != nil {
		return nil, &osirisErrors.InvalidOMLError{Reason: merr.Error()}
	}
	return &doc, nil
}

// ResolvedNeeds returns the effective needs list for step i within doc,
// applying the implicit-previous-step default.
func (d *Document) ResolvedNeeds(i int) []string {
	s := d.Steps[i]
	if s.Needs != nil {
		return s.Needs.Values
	}
	if i == 0 {
		return nil
	}
	return []string{d.Steps[i-1].ID}
}

// NeedsWasExplicit reports whether step i's `needs` field was present in
// the source document (list or scalar), as opposed to omitted.
func (d *Document) NeedsWasExplicit(i int) bool {
	return d.Steps[i].Needs != nil
}
