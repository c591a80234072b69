// Package pathutil renders `{var}`-templated relative paths under an
// implicit base directory, guaranteeing the result never escapes it.
package pathutil

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	osirisErrors "github.com/osiris-data/osiris/errors"
)

const defaultTimestampFormat = "20060102-150405" // Go equivalent of %Y%m%d-%H%M%S

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Context supplies substitution values for a template. SessionID is used to
// derive a uniqueness suffix for non-templated paths; Now is the time a
// {ts} placeholder renders (the current time when zero). A "ts" entry in
// Values is not consulted.
type Context struct {
	Values    map[string]string
	SessionID string
	Now       time.Time
}

// Stat abstracts path existence checks so RenderPath is testable without
// touching the real filesystem.
type Stat func(string) bool

// OSStat checks existence on the local disk.
func OSStat(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// RenderPath substitutes `{name}` placeholders in template from ctx,
// formats a `{ts}` placeholder with tsFormat (defaulting to
// "%Y%m%d-%H%M%S"-equivalent), rejects any `..` segment in the template or
// in a substituted value, normalizes away doubled separators left by empty
// substitutions, and strips a leading "/" so the result is always relative.
//
// If template contains no placeholders and stat(result) is true, a unique
// suffix derived from ctx.SessionID is appended before the extension.
// Templated paths never auto-suffix.
func RenderPath(template string, ctx Context, tsFormat string, stat Stat) (string, error) {
	if strings.Contains(template, "..") {
		return "", &osirisErrors.UnsafePathError{Template: template, Reason: "template contains .. segment"}
	}

	hasPlaceholder := placeholderRe.MatchString(template)

	if tsFormat == "" {
		tsFormat = defaultTimestampFormat
	}
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	var substErr error
	rendered := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "ts" {
			return now.Format(goTimeFormat(tsFormat))
		}
		v, ok := ctx.Values[name]
		if !ok {
			return ""
		}
		if strings.Contains(v, "..") {
			substErr = &osirisErrors.UnsafePathError{Template: template, Reason: fmt.Sprintf("substituted value for %q contains .. segment", name)}
			return ""
		}
		return v
	})
	if substErr != nil {
		return "", substErr
	}

	rendered = strings.TrimPrefix(rendered, "/")
	rendered = collapseSlashes(rendered)
	rendered = strings.TrimSuffix(rendered, "/")

	if rendered == "" || path.Base(rendered) == "" || rendered == "." {
		return "", &osirisErrors.UnsafePathError{Template: template, Reason: "empty basename after substitution"}
	}
	if strings.Contains(rendered, "..") {
		return "", &osirisErrors.UnsafePathError{Template: template, Reason: "rendered path escapes root"}
	}

	if !hasPlaceholder && stat != nil && stat(rendered) {
		rendered = suffixPath(rendered, ctx.SessionID)
	}

	return rendered, nil
}

// collapseSlashes turns runs of "/" produced by empty substitutions
// (e.g. "a//b") into a single "/".
func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

func suffixPath(p, sessionID string) string {
	if sessionID == "" {
		sessionID = "session"
	}
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	return fmt.Sprintf("%s-%s%s", base, sanitizeSuffix(sessionID), ext)
}

func sanitizeSuffix(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(s)
}

// goTimeFormat translates the small subset of strftime directives path
// templates actually use (%Y %m %d %H %M %S) into Go's reference-time layout. Any
// format that already looks like a Go layout (no % anywhere) passes through
// unchanged.
func goTimeFormat(f string) string {
	if !strings.Contains(f, "%") {
		return f
	}
	replacer := strings.NewReplacer(
		"%Y", "2006",
		"%m", "01",
		"%d", "02",
		"%H", "15",
		"%M", "04",
		"%S", "05",
	)
	return replacer.Replace(f)
}
