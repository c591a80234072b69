package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/osiris-data/osiris/config"
	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/session"

	"github.com/alecthomas/kingpin/v2"
	"github.com/mholt/archiver/v3"
	"github.com/sirupsen/logrus"
)

type logsCommand struct {
	session string
	limit   int
	days    int
	maxGB   float64
}

func sessionsRoot() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.SessionsDir, nil
}

func fail(err error) {
	logrus.WithError(err).Errorln("logs command failed")
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(osirisErrors.Classify(err))
}

func (c *logsCommand) list(*kingpin.ParseContext) error {
	root, err := sessionsRoot()
	if err != nil {
		fail(err)
	}
	summaries, err := session.ListSessions(root, c.limit)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no sessions recorded yet")
			return nil
		}
		fail(err)
	}
	for _, s := range summaries {
		printSummaryLine(s)
	}
	return nil
}

func (c *logsCommand) last(*kingpin.ParseContext) error {
	root, err := sessionsRoot()
	if err != nil {
		fail(err)
	}
	summaries, err := session.ListSessions(root, 1)
	if err != nil || len(summaries) == 0 {
		fmt.Println("no sessions recorded yet")
		return nil
	}
	printSummary(summaries[0])
	return nil
}

func (c *logsCommand) show(*kingpin.ParseContext) error {
	root, err := sessionsRoot()
	if err != nil {
		fail(err)
	}
	dir, kind, id, err := findSession(root, c.session)
	if err != nil {
		fail(err)
	}

	summary, err := session.ReadSession(root, kind, id)
	if err != nil {
		fail(err)
	}
	if summary != nil {
		printSummary(summary)
		fmt.Println()
	}

	raw, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		fail(err)
	}
	// every line through the redactor before it reaches a terminal
	fmt.Print(session.Redact(string(raw)))
	return nil
}

func (c *logsCommand) bundle(*kingpin.ParseContext) error {
	root, err := sessionsRoot()
	if err != nil {
		fail(err)
	}
	dir, kind, id, err := findSession(root, c.session)
	if err != nil {
		fail(err)
	}

	out := fmt.Sprintf("%s_%s.zip", kind, id)
	if err := zipDir(dir, out); err != nil {
		fail(err)
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}

func (c *logsCommand) gc(*kingpin.ParseContext) error {
	root, err := sessionsRoot()
	if err != nil {
		fail(err)
	}
	removed, err := collectGarbage(root, c.days, c.maxGB)
	if err != nil {
		fail(err)
	}
	fmt.Printf("removed %d session(s)\n", removed)
	return nil
}

func printSummaryLine(s *session.Summary) {
	fmt.Printf("%s_%s  %-7s  steps %d/%d  rows_in %d  rows_out %d  %s\n",
		s.Kind, s.ID, s.Status, s.StepsOK, s.StepsTotal, s.RowsIn, s.RowsOut, s.StartedAt)
}

func printSummary(s *session.Summary) {
	fmt.Printf("session:     %s_%s\n", s.Kind, s.ID)
	fmt.Printf("started_at:  %s\n", s.StartedAt)
	fmt.Printf("status:      %s\n", s.Status)
	fmt.Printf("steps:       %d total, %d ok, %d failed\n", s.StepsTotal, s.StepsOK, s.StepsFailed)
	fmt.Printf("rows:        %d in, %d out\n", s.RowsIn, s.RowsOut)
	if s.Warnings > 0 || s.Errors > 0 {
		fmt.Printf("diagnostics: %d warning(s), %d error(s)\n", s.Warnings, s.Errors)
	}
	if len(s.Tables) > 0 {
		fmt.Printf("tables:      %s\n", strings.Join(s.Tables, ", "))
	}
}

// findSession resolves ref -- either a full directory name like
// "run_abc123" or a bare id -- to the session directory.
func findSession(root, ref string) (dir, kind, id string, err error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", "", "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "@") {
			continue
		}
		if name != ref && !strings.HasSuffix(name, "_"+ref) {
			continue
		}
		k, i := name, ""
		if idx := strings.IndexByte(name, '_'); idx >= 0 {
			k, i = name[:idx], name[idx+1:]
		}
		return filepath.Join(root, name), k, i, nil
	}
	return "", "", "", fmt.Errorf("no session matches %q", ref)
}

func zipDir(dir, out string) error {
	z := archiver.Zip{OverwriteExisting: true}
	return z.Archive([]string{dir}, out)
}

type sessionDir struct {
	path    string
	modTime time.Time
	size    int64
}

// collectGarbage removes sessions older than days, then trims oldest-first
// until the total size fits under maxGB.
func collectGarbage(root string, days int, maxGB float64) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var dirs []sessionDir
	var total int64
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasPrefix(e.Name(), "@") {
			continue
		}
		path := filepath.Join(root, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		size := dirSize(path)
		dirs = append(dirs, sessionDir{path: path, modTime: info.ModTime(), size: size})
		total += size
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime.Before(dirs[j].modTime) })

	cutoff := time.Now().AddDate(0, 0, -days)
	maxBytes := int64(maxGB * 1024 * 1024 * 1024)

	removed := 0
	for _, d := range dirs {
		stale := d.modTime.Before(cutoff)
		oversize := maxBytes > 0 && total > maxBytes
		if !stale && !oversize {
			continue
		}
		if err := os.RemoveAll(d.path); err != nil {
			return removed, err
		}
		total -= d.size
		removed++
	}
	return removed, nil
}

func dirSize(root string) int64 {
	var size int64
	_ = filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// Register the logs command group.
func Register(app *kingpin.Application) {
	c := new(logsCommand)

	cmd := app.Command("logs", "inspect recorded sessions")

	list := cmd.Command("list", "list sessions, newest first").Action(c.list)
	list.Flag("limit", "maximum number of sessions to show").
		IntVar(&c.limit)

	show := cmd.Command("show", "print a session's summary and events").Action(c.show)
	show.Flag("session", "session id or directory name").
		Required().
		StringVar(&c.session)

	cmd.Command("last", "show the most recent session").Action(c.last)

	bundle := cmd.Command("bundle", "pack a session directory into a zip archive").Action(c.bundle)
	bundle.Flag("session", "session id or directory name").
		Required().
		StringVar(&c.session)

	gc := cmd.Command("gc", "delete old or oversized sessions").Action(c.gc)
	gc.Flag("days", "delete sessions older than this many days").
		Default("30").
		IntVar(&c.days)
	gc.Flag("max-gb", "keep total session size under this many gigabytes").
		Default("5").
		Float64Var(&c.maxGB)
}
