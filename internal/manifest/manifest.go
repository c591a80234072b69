// Package manifest defines the deterministic, secret-free execution plan
// the compiler emits and the runner consumes.
package manifest

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Fingerprints identifies the inputs a manifest was compiled from.
type Fingerprints struct {
	OMLFingerprint    string `yaml:"oml_fp"`
	ParamsFingerprint string `yaml:"params_fp"`
}

// Pipeline identifies the compiled pipeline.
type Pipeline struct {
	ID           string       `yaml:"id"`
	Version      string       `yaml:"version"`
	Fingerprints Fingerprints `yaml:"fingerprints"`
}

// Step is one topologically-ordered entry in the manifest.
type Step struct {
	ID      string   `yaml:"id"`
	Driver  string   `yaml:"driver"`
	CfgPath string   `yaml:"cfg_path"`
	Needs   []string `yaml:"needs"`
}

// Meta carries compilation provenance.
type Meta struct {
	OMLVersion  string `yaml:"oml_version"`
	Profile     string `yaml:"profile,omitempty"`
	GeneratedAt string `yaml:"generated_at"`
}

// Manifest is the full compiled execution plan.
type Manifest struct {
	PipelineInfo Pipeline `yaml:"pipeline"`
	Steps        []Step   `yaml:"steps"`
	MetaInfo     Meta     `yaml:"meta"`
}

// Load parses a manifest.yaml file from path.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Write serializes m to path as YAML.
func (m *Manifest) Write(path string) error {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// WithoutGeneratedAt returns a copy of m with MetaInfo.GeneratedAt cleared,
// for determinism comparisons.
func (m *Manifest) WithoutGeneratedAt() Manifest {
	cp := *m
	cp.MetaInfo.GeneratedAt = ""
	return cp
}

// StepByID returns the step with the given id, or nil.
func (m *Manifest) StepByID(id string) *Step {
	for i := range m.Steps {
		if m.Steps[i].ID == id {
			return &m.Steps[i]
		}
	}
	return nil
}
