// Package runner executes a compiled manifest: dependency-ordered step
// invocation, connection resolution, meta-key stripping, redacted-config
// auditing, in-memory result passing, and structured session events.
package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/connection"
	"github.com/osiris-data/osiris/internal/driverapi"
	"github.com/osiris-data/osiris/internal/jsonschema"
	"github.com/osiris-data/osiris/internal/manifest"
	"github.com/osiris-data/osiris/internal/registry"
)

// SessionLogger is the subset of session.Context the runner needs.
type SessionLogger interface {
	LogEvent(name string, fields map[string]interface{})
	LogMetric(name string, value float64, unit string, stepID string)
	WriteArtifactJSON(stepID, name string, v interface{}) error
}

// ConnectionResolver is the subset of connection.Resolver the runner needs.
type ConnectionResolver interface {
	Resolve(family, alias string) (*connection.Record, error)
}

// Options configures one Run invocation.
type Options struct {
	ManifestPath string
	Profile      string
	Drivers      *driverapi.Registry
	Registry     *registry.Registry
	Connections  ConnectionResolver // may be nil when no step needs one
	Log          SessionLogger      // may be nil
	DB           interface{}        // shared in-process handle for GetDBConnection, e.g. *sql.DB
}

// Run executes opts.ManifestPath's steps in order, returning true on a
// clean run and false (with an error describing the failure) otherwise.
func Run(opts Options) (bool, error) {
	start := time.Now()

	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		logEvent(opts.Log, "run_error", map[string]interface{}{"error": err.Error()})
		return false, err
	}
	if err := assertTopologicallySorted(m); err != nil {
		logEvent(opts.Log, "run_error", map[string]interface{}{"error": err.Error()})
		return false, err
	}

	driverNames := make([]string, len(m.Steps))
	for i, s := range m.Steps {
		driverNames[i] = s.Driver
	}
	logEvent(opts.Log, "drivers_registered", map[string]interface{}{"drivers": driverNames})

	profile := opts.Profile
	if profile == "" {
		profile = m.MetaInfo.Profile
	}
	logEvent(opts.Log, "run_start", map[string]interface{}{
		"pipeline_id": m.PipelineInfo.ID,
		"profile":     profile,
		"manifest":    opts.ManifestPath,
	})

	manifestDir := filepath.Dir(opts.ManifestPath)
	results := make(map[string]driverapi.Result, len(m.Steps))
	rowsByStep := make(map[string]float64)
	stepsExecuted := 0

	for _, step := range m.Steps {
		if err := runStep(opts, manifestDir, step, results, rowsByStep); err != nil {
			logEvent(opts.Log, "run_error", map[string]interface{}{
				"error":          err.Error(),
				"steps_executed": stepsExecuted,
			})
			logEvent(opts.Log, "run_end", map[string]interface{}{
				"status":           "failed",
				"duration_seconds": time.Since(start).Seconds(),
				"steps_executed":   stepsExecuted,
			})
			return false, err
		}
		stepsExecuted++
	}

	if total, ok := writerTotalRows(m, rowsByStep); ok {
		logEvent(opts.Log, "cleanup_complete", map[string]interface{}{"total_rows": total})
	}

	logEvent(opts.Log, "run_end", map[string]interface{}{
		"status":           "success",
		"duration_seconds": time.Since(start).Seconds(),
		"steps_executed":   stepsExecuted,
	})
	return true, nil
}

// Validate loads manifestPath and performs the checks Run would perform
// before executing any step: parseability and topological order. Used by
// the CLI's dry-run mode, which stops here.
func Validate(manifestPath string) (*manifest.Manifest, error) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	if err := assertTopologicallySorted(m); err != nil {
		return nil, err
	}
	return m, nil
}

func assertTopologicallySorted(m *manifest.Manifest) error {
	seen := make(map[string]bool, len(m.Steps))
	for _, step := range m.Steps {
		for _, dep := range step.Needs {
			if !seen[dep] {
				return &osirisErrors.InternalError{Reason: fmt.Sprintf("manifest not topologically sorted: %q needs %q which has not run yet", step.ID, dep)}
			}
		}
		seen[step.ID] = true
	}
	return nil
}

func runStep(opts Options, manifestDir string, step manifest.Step, results map[string]driverapi.Result, rowsByStep map[string]float64) error {
	stepStart := time.Now()
	logEvent(opts.Log, "step_start", map[string]interface{}{"step_id": step.ID, "driver": step.Driver})

	cfg, err := loadStepConfig(manifestDir, step)
	if err != nil {
		logEvent(opts.Log, "step_error", map[string]interface{}{"step_id": step.ID, "error": err.Error()})
		return err
	}

	family := registry.Family(step.Driver)

	if connRef, ok := cfg["connection"].(string); ok && connRef != "" {
		if err := resolveStepConnection(opts, step.ID, family, connRef, cfg); err != nil {
			logEvent(opts.Log, "step_error", map[string]interface{}{"step_id": step.ID, "error": err.Error()})
			return err
		}
	}

	stripped := stripMetaKeys(cfg)
	if len(stripped) > 0 {
		logEvent(opts.Log, "config_meta_stripped", map[string]interface{}{"step_id": step.ID, "keys": stripped})
	}

	if err := writeCleanedConfig(opts, step, cfg); err != nil {
		return &osirisErrors.InternalError{Reason: fmt.Sprintf("writing cleaned_config for step %q: %v", step.ID, err)}
	}

	inputs := make(map[string]driverapi.Result, len(step.Needs))
	for _, upstream := range step.Needs {
		res, ok := results[upstream]
		if !ok {
			continue
		}
		inputs[upstream] = res
		logEvent(opts.Log, "inputs_resolved", map[string]interface{}{
			"step_id":     step.ID,
			"from_step":   upstream,
			"output_keys": outputKeys(res),
			"row_count":   discoverRowCount(res),
			"from_memory": true,
		})
	}

	driver, ok, err := opts.Drivers.Get(step.Driver)
	if err != nil {
		werr := &osirisErrors.DriverFailureError{StepID: step.ID, Err: err}
		logEvent(opts.Log, "step_error", map[string]interface{}{"step_id": step.ID, "error": werr.Error()})
		return werr
	}
	if !ok {
		werr := &osirisErrors.DriverNotRegisteredError{Component: step.Driver}
		logEvent(opts.Log, "step_error", map[string]interface{}{"step_id": step.ID, "error": werr.Error()})
		return werr
	}

	runCtx := &runContext{log: opts.Log, db: opts.DB}
	result, err := driver.Run(step.ID, cfg, inputs, runCtx)
	if err != nil {
		werr := &osirisErrors.DriverFailureError{StepID: step.ID, Err: err}
		logEvent(opts.Log, "step_error", map[string]interface{}{"step_id": step.ID, "error": werr.Error()})
		return werr
	}
	results[step.ID] = result

	duration := time.Since(stepStart).Seconds()
	fields := map[string]interface{}{"step_id": step.ID, "duration_seconds": duration}
	if rows, ok := rowsProcessed(result); ok {
		fields["rows_processed"] = rows
		logMetric(opts.Log, "rows_processed", rows, "rows", step.ID)
		if isWriterStep(step) {
			rowsByStep[step.ID] = rows
		}
	}
	logEvent(opts.Log, "step_complete", fields)
	return nil
}

func loadStepConfig(manifestDir string, step manifest.Step) (map[string]interface{}, error) {
	raw, err := os.ReadFile(filepath.Join(manifestDir, step.CfgPath))
	if err != nil {
		return nil, &osirisErrors.InternalError{Reason: fmt.Sprintf("loading config for step %q: %v", step.ID, err)}
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &osirisErrors.InternalError{Reason: fmt.Sprintf("parsing config for step %q: %v", step.ID, err)}
	}
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	return cfg, nil
}

func resolveStepConnection(opts Options, stepID, driverFamily, connRef string, cfg map[string]interface{}) error {
	ok, refFamily, alias := connection.ParseReference(connRef)
	if !ok {
		return &osirisErrors.InvalidOMLError{Reason: fmt.Sprintf("step %q: malformed connection reference %q", stepID, connRef)}
	}
	if refFamily != driverFamily {
		return &osirisErrors.ConnectionFamilyMismatchError{StepID: stepID, DriverFamily: driverFamily, ConnectionFamily: refFamily}
	}
	if opts.Connections == nil {
		return &osirisErrors.InternalError{Reason: fmt.Sprintf("step %q: connection %q requested but no connection store is configured", stepID, connRef)}
	}
	record, err := opts.Connections.Resolve(refFamily, alias)
	if err != nil {
		return err
	}
	cfg["resolved_connection"] = record.Fields
	return nil
}

// stripMetaKeys removes OML step-level fields that may have leaked into the
// config map ("component", and "connection" once resolved), returning the
// names actually present.
func stripMetaKeys(cfg map[string]interface{}) []string {
	var removed []string
	for _, k := range []string{"component", "connection"} {
		if _, ok := cfg[k]; ok {
			delete(cfg, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// writeCleanedConfig persists artifacts/<step_id>/cleaned_config.json: a
// deep copy of cfg with every value at a secret JSON Pointer declared by
// the step's component spec replaced by "***MASKED***", and every field of
// the injected resolved_connection masked wholesale -- the resolved record
// carries env-substituted credentials the declared secret pointers miss.
func writeCleanedConfig(opts Options, step manifest.Step, cfg map[string]interface{}) error {
	if opts.Log == nil {
		return nil
	}
	cleaned := cloneConfig(cfg)
	if spec, ok := opts.Registry.Get(step.Driver); ok {
		for _, ptr := range spec.Secrets {
			if _, present := jsonschema.PointerGet(cleaned, ptr); present {
				jsonschema.PointerSet(cleaned, ptr, "***MASKED***")
			}
		}
	}
	if rc, ok := cleaned["resolved_connection"].(map[string]interface{}); ok {
		for k := range rc {
			rc[k] = "***MASKED***"
		}
	}
	return opts.Log.WriteArtifactJSON(step.ID, "cleaned_config.json", cleaned)
}

func cloneConfig(cfg map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		if sub, ok := v.(map[string]interface{}); ok {
			out[k] = cloneConfig(sub)
			continue
		}
		out[k] = v
	}
	return out
}

// writerTotalRows sums rows_processed across writer steps only, per the
// extract/write double-count rule.
func writerTotalRows(m *manifest.Manifest, rowsByStep map[string]float64) (float64, bool) {
	if len(rowsByStep) == 0 {
		return 0, false
	}
	var total float64
	var any bool
	for _, step := range m.Steps {
		if rows, ok := rowsByStep[step.ID]; ok && isWriterStep(step) {
			total += rows
			any = true
		}
	}
	return total, any
}

// isWriterStep applies the writer-detection heuristic: driver name suffix
// ("*.writer", "*.load") with a fallback to a step-id substring match.
func isWriterStep(step manifest.Step) bool {
	driver := strings.ToLower(step.Driver)
	if strings.HasSuffix(driver, ".writer") || strings.HasSuffix(driver, ".load") {
		return true
	}
	id := strings.ToLower(step.ID)
	return strings.Contains(id, "write") || strings.Contains(id, "load")
}

func rowsProcessed(result driverapi.Result) (float64, bool) {
	raw, ok := result["rows_processed"]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func discoverRowCount(result driverapi.Result) interface{} {
	if rows, ok := rowsProcessed(result); ok {
		return rows
	}
	return nil
}

func outputKeys(result driverapi.Result) []string {
	out := make([]string, 0, len(result))
	for k := range result {
		out = append(out, k)
	}
	return out
}

func logEvent(log SessionLogger, name string, fields map[string]interface{}) {
	if log != nil {
		log.LogEvent(name, fields)
	}
}

func logMetric(log SessionLogger, name string, value float64, unit, stepID string) {
	if log != nil {
		log.LogMetric(name, value, unit, stepID)
	}
}

// runContext is the concrete driverapi.RunContext the runner hands to
// every driver invocation.
type runContext struct {
	log SessionLogger
	db  interface{}
}

func (c *runContext) LogEvent(name string, fields map[string]interface{}) {
	if c.log != nil {
		c.log.LogEvent(name, fields)
	}
}

func (c *runContext) LogMetric(name string, value float64, unit string, stepID string) {
	if c.log != nil {
		c.log.LogMetric(name, value, unit, stepID)
	}
}

func (c *runContext) GetDBConnection() (interface{}, error) {
	if c.db == nil {
		return nil, &osirisErrors.InternalError{Reason: "no shared database connection configured for this run"}
	}
	return c.db, nil
}
