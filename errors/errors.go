// Package errors defines the tagged error variants of the Osiris error
// taxonomy. Callers should use errors.As to discriminate; the runner and
// compiler never string-match on Error() text. Classify maps any error
// produced by this package (or a wrapped stdlib error) to the process exit
// code the CLI should use.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ExitCoder is implemented by every error variant in this package.
type ExitCoder interface {
	error
	ExitCode() int
}

// Classify returns the process exit code for err: user-input and
// environment errors exit 2, runtime and internal errors exit 1. A nil err classifies as 0.
func Classify(err error) int {
	if err == nil {
		return 0
	}
	var ec ExitCoder
	if stderrors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}

const (
	exitUser = 2
	exitRun  = 1
)

// --- User-input errors (exit 2) ---

type InvalidOMLError struct{ Reason string }

func (e *InvalidOMLError) Error() string { return fmt.Sprintf("invalid OML: %s", e.Reason) }
func (e *InvalidOMLError) ExitCode() int { return exitUser }

type UnknownComponentError struct{ StepID, Component string }

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("step %q references unknown component %q", e.StepID, e.Component)
}
func (e *UnknownComponentError) ExitCode() int { return exitUser }

type InvalidModeError struct{ StepID, Component, Mode string }

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("step %q: component %q does not declare mode %q", e.StepID, e.Component, e.Mode)
}
func (e *InvalidModeError) ExitCode() int { return exitUser }

type SchemaValidationError struct {
	StepID  string
	Pointer string
	Reason  string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("step %q: config at %s invalid: %s", e.StepID, e.Pointer, e.Reason)
}
func (e *SchemaValidationError) ExitCode() int { return exitUser }

type InlineSecretError struct {
	StepID  string
	Pointer string
}

func (e *InlineSecretError) Error() string {
	return fmt.Sprintf("step %q: literal value not allowed at secret pointer %s", e.StepID, e.Pointer)
}
func (e *InlineSecretError) ExitCode() int { return exitUser }

type GraphCycleError struct{ Cycle []string }

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("pipeline graph has a cycle: %v", e.Cycle)
}
func (e *GraphCycleError) ExitCode() int { return exitUser }

type DuplicateStepIDError struct{ StepID string }

func (e *DuplicateStepIDError) Error() string {
	return fmt.Sprintf("duplicate step id %q", e.StepID)
}
func (e *DuplicateStepIDError) ExitCode() int { return exitUser }

type UnknownProfileError struct{ Profile string }

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown profile %q", e.Profile)
}
func (e *UnknownProfileError) ExitCode() int { return exitUser }

type InvalidParamFormatError struct{ Raw string }

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid --param value %q, expected KEY=VALUE", e.Raw)
}
func (e *InvalidParamFormatError) ExitCode() int { return exitUser }

// --- Environment errors (exit 2) ---

type MissingEnvVarError struct {
	Family, Alias, Field, Var string
}

func (e *MissingEnvVarError) Error() string {
	return fmt.Sprintf("connection %s.%s: field %q references unset or empty env var %q", e.Family, e.Alias, e.Field, e.Var)
}
func (e *MissingEnvVarError) ExitCode() int { return exitUser }

type MissingConnectionsFileError struct{ Path string }

func (e *MissingConnectionsFileError) Error() string {
	return fmt.Sprintf("connections file not found: %s", e.Path)
}
func (e *MissingConnectionsFileError) ExitCode() int { return exitUser }

type NoDefaultConnectionError struct {
	Family    string
	Available []string
}

func (e *NoDefaultConnectionError) Error() string {
	return fmt.Sprintf("no default connection for family %q; available aliases: %v", e.Family, e.Available)
}
func (e *NoDefaultConnectionError) ExitCode() int { return exitUser }

type UnknownConnectionFamilyError struct{ Family string }

func (e *UnknownConnectionFamilyError) Error() string {
	return fmt.Sprintf("unknown connection family %q", e.Family)
}
func (e *UnknownConnectionFamilyError) ExitCode() int { return exitUser }

type UnknownConnectionAliasError struct{ Family, Alias string }

func (e *UnknownConnectionAliasError) Error() string {
	return fmt.Sprintf("unknown connection alias %q for family %q", e.Alias, e.Family)
}
func (e *UnknownConnectionAliasError) ExitCode() int { return exitUser }

type ConnectionFamilyMismatchError struct {
	StepID, DriverFamily, ConnectionFamily string
}

func (e *ConnectionFamilyMismatchError) Error() string {
	return fmt.Sprintf("step %q: driver family %q does not match connection family %q", e.StepID, e.DriverFamily, e.ConnectionFamily)
}
func (e *ConnectionFamilyMismatchError) ExitCode() int { return exitUser }

type UnsafePathError struct {
	Template string
	Reason   string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path from template %q: %s", e.Template, e.Reason)
}
func (e *UnsafePathError) ExitCode() int { return exitUser }

// --- Runtime errors (exit 1) ---

type DriverFailureError struct {
	StepID string
	Err    error
}

func (e *DriverFailureError) Error() string {
	return fmt.Sprintf("step %q: driver failed: %v", e.StepID, e.Err)
}
func (e *DriverFailureError) Unwrap() error { return e.Err }
func (e *DriverFailureError) ExitCode() int { return exitRun }

type DriverNotRegisteredError struct{ Component string }

func (e *DriverNotRegisteredError) Error() string {
	return fmt.Sprintf("no driver registered for component %q", e.Component)
}
func (e *DriverNotRegisteredError) ExitCode() int { return exitRun }

type CacheMissForCompileNeverError struct {
	OMLFingerprint, ParamsFingerprint string
}

func (e *CacheMissForCompileNeverError) Error() string {
	return fmt.Sprintf("compile mode=never: no cached manifest matches oml_fp=%s params_fp=%s",
		e.OMLFingerprint, e.ParamsFingerprint)
}
func (e *CacheMissForCompileNeverError) ExitCode() int { return exitRun }

// --- Internal errors (exit 1) ---

type InternalError struct{ Reason string }

func (e *InternalError) Error() string { return fmt.Sprintf("internal error: %s", e.Reason) }
func (e *InternalError) ExitCode() int { return exitRun }
