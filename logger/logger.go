// Package logger provides the ambient structured logger used across the
// compiler, runner, and session packages.
package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// L is the default logger used when no context-scoped logger is available.
var L = logrus.NewEntry(logrus.StandardLogger())

// WithContext returns a new context carrying the given logger. Use in
// combination with the entry's WithField(s) for great effect.
func WithContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}

// FromContext retrieves the current logger from the context. If no logger
// was installed, the default logger is returned.
func FromContext(ctx context.Context) *logrus.Entry {
	if v := ctx.Value(loggerKey{}); v != nil {
		return v.(*logrus.Entry)
	}
	return L
}

// SetOutputFile redirects the standard logger to path, appending. An empty
// path leaves the current output untouched.
func SetOutputFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	logrus.SetOutput(f)
	return nil
}

// SetLevel parses level (as accepted by logrus.ParseLevel) and applies it to
// the standard logger. An empty or unknown level leaves the current level
// untouched.
func SetLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		L.WithField("level", level).Warn("osiris: unknown log level, ignoring")
		return
	}
	logrus.SetLevel(lvl)
}
