package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/oml"
)

// ParamSource records where a resolved parameter's final value came from,
// for the effective_config.json audit block.
type ParamSource string

const (
	SourceCLI     ParamSource = "cli"
	SourceEnv     ParamSource = "env"
	SourceProfile ParamSource = "profile"
	SourceDefault ParamSource = "default"
)

// ResolvedParam is one parameter's final value plus its provenance.
type ResolvedParam struct {
	Value  interface{}
	Source ParamSource
}

// ResolveParams composes the parameter mapping by precedence:
// CLI > OSIRIS_PARAM_* env > selected profile's params > OML defaults
// envParams is keyed by lower-cased parameter name
// (as produced by config.scanParamOverrides).
func ResolveParams(doc *oml.Document, profile string, cliParams map[string]string, envParams map[string]string) (map[string]ResolvedParam, error) {
	var prof *oml.Profile
	if profile != "" {
		p, ok := doc.Profiles[profile]
		if !ok {
			return nil, &osirisErrors.UnknownProfileError{Profile: profile}
		}
		prof = &p
	}

	out := make(map[string]ResolvedParam, len(doc.Params))
	for name, decl := range doc.Params {
		rp := ResolvedParam{Value: decl.Default, Source: SourceDefault}

		if prof != nil {
			if v, ok := prof.Params[name]; ok {
				rp = ResolvedParam{Value: v, Source: SourceProfile}
			}
		}
		if v, ok := envParams[strings.ToLower(name)]; ok {
			rp = ResolvedParam{Value: v, Source: SourceEnv}
		}
		if v, ok := cliParams[name]; ok {
			rp = ResolvedParam{Value: v, Source: SourceCLI}
		}
		out[name] = rp
	}

	// CLI/env overrides for names not declared in doc.Params are still
	// honored -- a pipeline may reference ${params.x} where x is supplied
	// only at invocation time.
	for name, v := range envParams {
		if _, declared := out[name]; !declared {
			out[name] = ResolvedParam{Value: v, Source: SourceEnv}
		}
	}
	for name, v := range cliParams {
		if _, declared := out[name]; !declared {
			out[name] = ResolvedParam{Value: v, Source: SourceCLI}
		} else if out[name].Source != SourceCLI {
			out[name] = ResolvedParam{Value: v, Source: SourceCLI}
		}
	}

	return out, nil
}

// ParseCLIParam parses a single "--param K=V" argument.
func ParseCLIParam(raw string) (key, value string, err error) {
	idx := strings.IndexByte(raw, '=')
	if idx <= 0 {
		return "", "", &osirisErrors.InvalidParamFormatError{Raw: raw}
	}
	return raw[:idx], raw[idx+1:], nil
}

var paramRefRe = regexp.MustCompile(`\$\{params\.([A-Za-z0-9_]+)\}`)

// SubstituteParams recursively replaces ${params.name} occurrences in
// string values of v. A string that is *exactly* one placeholder is
// replaced with the resolved value's native type (so numeric/bool params
// survive); a string with the placeholder embedded in other text gets a
// textual substitution. "@family.alias" connection references are left
// untouched -- they are not param references and are resolved at run time.
func SubstituteParams(v interface{}, params map[string]ResolvedParam) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return substituteString(val, params)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			sv, err := SubstituteParams(item, params)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			sv, err := SubstituteParams(item, params)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	default:
		return v, nil
	}
}

func substituteString(s string, params map[string]ResolvedParam) (interface{}, error) {
	matches := paramRefRe.FindStringSubmatch(s)
	if matches != nil && matches[0] == s {
		name := matches[1]
		rp, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("unresolved parameter reference ${params.%s}", name)
		}
		return rp.Value, nil
	}

	var missing error
	out := paramRefRe.ReplaceAllStringFunc(s, func(m string) string {
		name := paramRefRe.FindStringSubmatch(m)[1]
		rp, ok := params[name]
		if !ok {
			missing = fmt.Errorf("unresolved parameter reference ${params.%s}", name)
			return m
		}
		return fmt.Sprint(rp.Value)
	})
	if missing != nil {
		return nil, missing
	}
	return out, nil
}

// SortedParamNames returns params' keys, sorted -- used by the params
// fingerprint and effective_config.json emission for determinism.
func SortedParamNames(params map[string]ResolvedParam) []string {
	out := make([]string, 0, len(params))
	for k := range params {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
