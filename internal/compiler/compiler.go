// Package compiler implements OML -> manifest compilation: parameter
// resolution, parameter substitution, secret rejection, schema
// validation, DAG ordering, fingerprinting, and deterministic output
// emission.
package compiler

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/jsonschema"
	"github.com/osiris-data/osiris/internal/manifest"
	"github.com/osiris-data/osiris/internal/oml"
	"github.com/osiris-data/osiris/internal/registry"
	"github.com/osiris-data/osiris/logger"
)

// Mode controls cache reuse.
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeForce Mode = "force"
	ModeNever Mode = "never"
)

// SessionLogger is the subset of session.Context the compiler needs.
type SessionLogger interface {
	LogEvent(name string, fields map[string]interface{})
}

// Options configures one Compile invocation.
type Options struct {
	OMLPath    string
	OutDir     string
	Profile    string
	CLIParams  map[string]string
	EnvParams  map[string]string
	Mode       Mode
	Registry   *registry.Registry
	Log        SessionLogger // may be nil
}

// Result is the outcome of a successful compile.
type Result struct {
	Manifest          *manifest.Manifest
	OMLFingerprint    string
	ParamsFingerprint string
	Reused            bool
}

func logEvent(log SessionLogger, name string, fields map[string]interface{}) {
	if log != nil {
		log.LogEvent(name, fields)
	}
}

// Compile runs the full pipeline: load, validate, resolve, fingerprint,
// and emit.
func Compile(opts Options) (*Result, error) {
	start := time.Now()
	logEvent(opts.Log, "compile_start", map[string]interface{}{"oml_path": opts.OMLPath})

	doc, err := oml.Load(opts.OMLPath)
	if err != nil {
		logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if err := validateComponentsAndModes(doc, opts.Registry); err != nil {
		logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	logEvent(opts.Log, "oml_validated", map[string]interface{}{
		"oml_version": doc.OMLVersion,
		"pipeline":    map[string]interface{}{"name": doc.Name},
	})

	params, err := ResolveParams(doc, opts.Profile, opts.CLIParams, opts.EnvParams)
	if err != nil {
		logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	substitutedConfigs := make(map[string]map[string]interface{}, len(doc.Steps))
	for _, step := range doc.Steps {
		sv, err := SubstituteParams(step.Config, params)
		if err != nil {
			werr := &osirisErrors.InvalidOMLError{Reason: fmt.Sprintf("step %q: %v", step.ID, err)}
			logEvent(opts.Log, "compile_error", map[string]interface{}{"error": werr.Error()})
			return nil, werr
		}
		cfg, _ := sv.(map[string]interface{})
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		substitutedConfigs[step.ID] = cfg
	}

	for _, step := range doc.Steps {
		spec, _ := opts.Registry.Get(step.Component)
		if err := rejectInlineSecrets(step.ID, substitutedConfigs[step.ID], spec.Secrets); err != nil {
			logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
			return nil, err
		}
	}

	if err := validateStepSchemas(doc, substitutedConfigs, opts.Registry); err != nil {
		logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	for i := range doc.Steps {
		if i > 0 && !doc.NeedsWasExplicit(i) {
			logger.L.WithField("step", doc.Steps[i].ID).WithField("implied", doc.Steps[i-1].ID).
				Warn("osiris: step declares no needs; defaulting to the previous step")
		}
	}

	order, needsByID, err := TopoSort(doc)
	if err != nil {
		logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	omlFP := fingerprintOML(doc, substitutedConfigs, opts.Registry)
	paramsFP := fingerprintParams(params)

	existing, _ := manifest.Load(filepath.Join(opts.OutDir, "manifest.yaml"))
	reuse, err := decideCache(opts.Mode, existing, omlFP, paramsFP)
	if err != nil {
		logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	if reuse {
		logEvent(opts.Log, "compile_complete", map[string]interface{}{
			"duration_seconds": time.Since(start).Seconds(),
			"oml_fp":           omlFP,
			"params_fp":        paramsFP,
			"reused":           true,
		})
		return &Result{Manifest: existing, OMLFingerprint: omlFP, ParamsFingerprint: paramsFP, Reused: true}, nil
	}

	m, err := emitOutputs(opts, doc, order, needsByID, substitutedConfigs, params, omlFP, paramsFP)
	if err != nil {
		logEvent(opts.Log, "compile_error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	logEvent(opts.Log, "compile_complete", map[string]interface{}{
		"duration_seconds": time.Since(start).Seconds(),
		"oml_fp":           omlFP,
		"params_fp":        paramsFP,
		"reused":           false,
	})
	return &Result{Manifest: m, OMLFingerprint: omlFP, ParamsFingerprint: paramsFP, Reused: false}, nil
}

func validateComponentsAndModes(doc *oml.Document, reg *registry.Registry) error {
	var merr *multierror.Error
	for _, step := range doc.Steps {
		spec, ok := reg.Get(step.Component)
		if !ok {
			merr = multierror.Append(merr, &osirisErrors.UnknownComponentError{StepID: step.ID, Component: step.Component})
			continue
		}
		if step.Mode != "" && !spec.HasMode(step.Mode) {
			merr = multierror.Append(merr, &osirisErrors.InvalidModeError{StepID: step.ID, Component: step.Component, Mode: step.Mode})
		}
	}
	return merr.ErrorOrNil()
}

func rejectInlineSecrets(stepID string, config map[string]interface{}, secretPointers []string) error {
	for _, ptr := range secretPointers {
		v, ok := jsonschema.PointerGet(config, ptr)
		if !ok {
			continue
		}
		if s, isString := v.(string); isString && isReferenceExpression(s) {
			continue
		}
		return &osirisErrors.InlineSecretError{StepID: stepID, Pointer: ptr}
	}
	return nil
}

func isReferenceExpression(s string) bool {
	return strings.HasPrefix(s, "@") || strings.HasPrefix(s, "${")
}

func validateStepSchemas(doc *oml.Document, configs map[string]map[string]interface{}, reg *registry.Registry) error {
	var merr *multierror.Error
	for _, step := range doc.Steps {
		spec, ok := reg.Get(step.Component)
		if !ok {
			continue // already reported by validateComponentsAndModes
		}
		for _, verr := range jsonschema.Validate(spec.ConfigSchema, configs[step.ID]) {
			merr = multierror.Append(merr, &osirisErrors.SchemaValidationError{StepID: step.ID, Pointer: verr.Pointer, Reason: verr.Message})
		}
	}
	return merr.ErrorOrNil()
}

func decideCache(mode Mode, existing *manifest.Manifest, omlFP, paramsFP string) (bool, error) {
	matches := existing != nil &&
		existing.PipelineInfo.Fingerprints.OMLFingerprint == omlFP &&
		existing.PipelineInfo.Fingerprints.ParamsFingerprint == paramsFP

	switch mode {
	case ModeNever:
		if !matches {
			return false, &osirisErrors.CacheMissForCompileNeverError{OMLFingerprint: omlFP, ParamsFingerprint: paramsFP}
		}
		return true, nil
	case ModeForce:
		return false, nil
	default: // ModeAuto
		return matches, nil
	}
}

func emitOutputs(opts Options, doc *oml.Document, order []string, needsByID map[string][]string,
	configs map[string]map[string]interface{}, params map[string]ResolvedParam, omlFP, paramsFP string) (*manifest.Manifest, error) {

	if err := os.MkdirAll(filepath.Join(opts.OutDir, "cfg"), 0o755); err != nil {
		return nil, err
	}

	byID := make(map[string]oml.Step, len(doc.Steps))
	for _, s := range doc.Steps {
		byID[s.ID] = s
	}

	m := &manifest.Manifest{
		PipelineInfo: manifestPipeline(doc, omlFP, paramsFP),
		MetaInfo: manifest.Meta{
			OMLVersion:  doc.OMLVersion,
			Profile:     opts.Profile,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}

	for _, id := range order {
		step := byID[id]

		cfgPath := filepath.Join("cfg", id+".json")
		raw, err := json.MarshalIndent(configs[id], "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(opts.OutDir, cfgPath), append(raw, '\n'), 0o644); err != nil {
			return nil, err
		}

		needs := needsByID[id]
		if needs == nil {
			needs = []string{}
		}
		m.Steps = append(m.Steps, manifest.Step{ID: id, Driver: step.Component, CfgPath: cfgPath, Needs: needs})
	}

	if err := m.Write(filepath.Join(opts.OutDir, "manifest.yaml")); err != nil {
		return nil, err
	}

	effective := effectiveConfigDocument(params)
	raw, err := json.MarshalIndent(effective, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(opts.OutDir, "effective_config.json"), append(raw, '\n'), 0o644); err != nil {
		return nil, err
	}

	return m, nil
}

func manifestPipeline(doc *oml.Document, omlFP, paramsFP string) manifest.Pipeline {
	return manifest.Pipeline{
		ID:      doc.Name,
		Version: doc.OMLVersion,
		Fingerprints: manifest.Fingerprints{
			OMLFingerprint:    omlFP,
			ParamsFingerprint: paramsFP,
		},
	}
}

func effectiveConfigDocument(params map[string]ResolvedParam) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for _, name := range SortedParamNames(params) {
		rp := params[name]
		out[name] = map[string]interface{}{"value": rp.Value, "source": string(rp.Source)}
	}
	return out
}

// fingerprintOML hashes the canonical projection of the OML document
// after parameter substitution, with every secret-pointer value removed.
func fingerprintOML(doc *oml.Document, configs map[string]map[string]interface{}, reg *registry.Registry) string {
	stepsProjection := make([]map[string]interface{}, 0, len(doc.Steps))
	for i, step := range doc.Steps {
		cfg := cloneMap(configs[step.ID])
		if spec, ok := reg.Get(step.Component); ok {
			for _, ptr := range spec.Secrets {
				jsonschema.PointerSet(cfg, ptr, nil)
			}
		}
		needs := doc.ResolvedNeeds(i)
		if needs == nil {
			needs = []string{}
		}
		stepsProjection = append(stepsProjection, map[string]interface{}{
			"id":        step.ID,
			"component": step.Component,
			"mode":      step.Mode,
			"needs":     needs,
			"config":    cfg,
		})
	}
	projection := map[string]interface{}{
		"oml_version": doc.OMLVersion,
		"name":        doc.Name,
		"steps":       stepsProjection,
	}
	return hashCanonicalJSON(projection)
}

// fingerprintParams hashes the sorted params-with-provenance mapping.
func fingerprintParams(params map[string]ResolvedParam) string {
	projection := make(map[string]interface{}, len(params))
	for name, rp := range params {
		projection[name] = map[string]interface{}{"value": rp.Value, "source": string(rp.Source)}
	}
	return hashCanonicalJSON(projection)
}

func hashCanonicalJSON(v interface{}) string {
	raw, _ := json.Marshal(v) // map keys and struct fields marshal deterministically
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]interface{}); ok {
			out[k] = cloneMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
