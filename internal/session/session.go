// Package session implements the per-invocation session directory: the
// structured events.jsonl/metrics.jsonl writers, the human osiris.log
// mirror, and artifact helpers. The JSONL files use one append-only
// writer each, guarded by a mutex and flushed on every write, rather
// than buffering in memory.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	easyFormatter "github.com/t-tomalak/logrus-easy-formatter"

	"github.com/osiris-data/osiris/logger"
)

// Context is the ambient handle for one session: a directory named
// <kind>_<id> under the sessions root.
type Context struct {
	Kind string
	ID   string
	Dir  string

	mu         sync.Mutex
	events     *lineWriter
	metrics    *lineWriter
	humanFile  *os.File
	human      *logrus.Logger
	allowedSet map[string]bool // nil means no allow-list (everything logged)
	closed     bool
	log        *logrus.Entry
}

type lineWriter struct {
	f *os.File
	w *bufio.Writer
}

func newLineWriter(path string) (*lineWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &lineWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (lw *lineWriter) writeLine(line string) error {
	if _, err := lw.w.WriteString(line); err != nil {
		return err
	}
	if err := lw.w.WriteByte('\n'); err != nil {
		return err
	}
	return lw.w.Flush()
}

func (lw *lineWriter) close() error {
	if err := lw.w.Flush(); err != nil {
		lw.f.Close()
		return err
	}
	return lw.f.Close()
}

// Open creates (or reuses) the session directory <sessionsRoot>/<kind>_<id>
// and its events.jsonl, metrics.jsonl, osiris.log, and artifacts/ layout.
// allowedEvents, when non-nil, silently drops any LogEvent call whose name
// isn't in the set -- useful to quiet noisy third-party drivers.
func Open(sessionsRoot, kind, id string, allowedEvents map[string]bool) (*Context, error) {
	dir := filepath.Join(sessionsRoot, fmt.Sprintf("%s_%s", kind, id))
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return nil, err
	}

	events, err := newLineWriter(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		return nil, err
	}
	metrics, err := newLineWriter(filepath.Join(dir, "metrics.jsonl"))
	if err != nil {
		events.close()
		return nil, err
	}
	humanFile, err := os.OpenFile(filepath.Join(dir, "osiris.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		events.close()
		metrics.close()
		return nil, err
	}

	human := &logrus.Logger{
		Out:   humanFile,
		Level: logrus.InfoLevel,
		Formatter: &easyFormatter.Formatter{
			TimestampFormat: time.RFC3339,
			LogFormat:       "%time% osiris [%lvl%] session=%session% %msg%\n",
		},
	}

	return &Context{
		Kind:       kind,
		ID:         id,
		Dir:        dir,
		events:     events,
		metrics:    metrics,
		humanFile:  humanFile,
		human:      human,
		allowedSet: allowedEvents,
		log:        logger.L.WithField("session", id),
	}, nil
}

// Close flushes and closes every session file. Safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for _, w := range []*lineWriter{c.events, c.metrics} {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.humanFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// LogEvent appends one JSON object to events.jsonl and mirrors a
// human-readable line to osiris.log, unless name is excluded by the
// session's allow-list.
func (c *Context) LogEvent(name string, fields map[string]interface{}) {
	if c.allowedSet != nil && !c.allowedSet[name] {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	rec := map[string]interface{}{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"session": c.ID,
		"event":   name,
	}
	for k, v := range fields {
		rec[k] = v
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		c.log.WithError(err).Error("osiris: failed to marshal session event")
		return
	}
	if err := c.events.writeLine(string(raw)); err != nil {
		c.log.WithError(err).Error("osiris: failed to write session event")
	}

	c.human.WithField("session", c.ID).WithFields(logrus.Fields(fields)).Info(name)
	c.log.WithFields(logrus.Fields(fields)).Debug(name)
}

// LogMetric appends one JSON object to metrics.jsonl.
func (c *Context) LogMetric(name string, value float64, unit string, stepID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	rec := map[string]interface{}{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"session": c.ID,
		"metric":  name,
		"value":   value,
	}
	if unit != "" {
		rec["unit"] = unit
	}
	if stepID != "" {
		rec["step_id"] = stepID
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		c.log.WithError(err).Error("osiris: failed to marshal session metric")
		return
	}
	if err := c.metrics.writeLine(string(raw)); err != nil {
		c.log.WithError(err).Error("osiris: failed to write session metric")
	}
}

// ArtifactDir returns (creating if needed) the artifacts directory for
// stepID.
func (c *Context) ArtifactDir(stepID string) (string, error) {
	dir := filepath.Join(c.Dir, "artifacts", stepID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteArtifactJSON marshals v as indented JSON and writes it to
// artifacts/<stepID>/<name>.
func (c *Context) WriteArtifactJSON(stepID, name string, v interface{}) error {
	dir, err := c.ArtifactDir(stepID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), append(raw, '\n'), 0o644)
}
