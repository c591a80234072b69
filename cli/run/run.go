package run

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/osiris-data/osiris/config"
	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/connection"
	"github.com/osiris-data/osiris/internal/driverapi"
	"github.com/osiris-data/osiris/internal/drivers"
	"github.com/osiris-data/osiris/internal/registry"
	"github.com/osiris-data/osiris/internal/runner"
	"github.com/osiris-data/osiris/internal/session"
	"github.com/osiris-data/osiris/logger"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gofrs/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type runCommand struct {
	envfile      string
	manifestPath string
	verbose      bool
	dryRun       bool
}

func (c *runCommand) run(*kingpin.ParseContext) error {
	godotenv.Load(c.envfile)

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Errorln("cannot load the configuration")
		return err
	}
	logger.SetLevel(cfg.LogLevel)
	if err := logger.SetOutputFile(cfg.LogFile); err != nil {
		logrus.WithError(err).Warnln("cannot redirect log output")
	}
	if c.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if c.dryRun {
		m, err := runner.Validate(c.manifestPath)
		if err != nil {
			fail(nil, err)
		}
		fmt.Printf("dry-run: manifest %s is valid, %d steps:\n", c.manifestPath, len(m.Steps))
		for _, step := range m.Steps {
			fmt.Printf("  %s (%s) needs=%v\n", step.ID, step.Driver, step.Needs)
		}
		return nil
	}

	reg, err := registry.LoadSpecs(filepath.Join(cfg.Home, "components"))
	if err != nil {
		fail(nil, err)
	}

	id := sessionID()
	sess, err := session.Open(cfg.SessionsDir, "run", id, nil)
	if err != nil {
		logrus.WithError(err).Errorln("cannot open session")
		return err
	}
	if err := snapshotManifest(sess.Dir, c.manifestPath); err != nil {
		logrus.WithError(err).Warnln("cannot snapshot manifest into session")
	}

	db, err := drivers.OpenSharedDB()
	if err != nil {
		fail(sess, err)
	}
	defer db.Close()

	_, err = runner.Run(runner.Options{
		ManifestPath: c.manifestPath,
		Drivers:      driverapi.BuildFromSpecs(reg.All(), drivers.NewResolver(drivers.Options{})),
		Registry:     reg,
		Connections:  connection.NewLazyResolver(cfg.ConnectionsFile, sess),
		Log:          sess,
		DB:           db,
	})
	if err != nil {
		fail(sess, err)
	}
	sess.Close()

	fmt.Printf("run complete: session run_%s\n", id)
	return nil
}

// snapshotManifest copies the manifest and its per-step configs into the
// session directory so the session is self-describing after the compile
// output is cleaned up.
func snapshotManifest(sessionDir, manifestPath string) error {
	if err := copyFile(manifestPath, filepath.Join(sessionDir, "manifest.yaml")); err != nil {
		return errors.Wrap(err, "copying manifest")
	}
	cfgDir := filepath.Join(filepath.Dir(manifestPath), "cfg")
	entries, err := os.ReadDir(cfgDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dst := filepath.Join(sessionDir, "compiled", "cfg")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(cfgDir, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fail(sess *session.Context, err error) {
	logrus.WithError(err).Errorln("run failed")
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if sess != nil {
		sess.Close()
	}
	os.Exit(osirisErrors.Classify(err))
}

func sessionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// Register the run command.
func Register(app *kingpin.Application) {
	c := new(runCommand)

	cmd := app.Command("run", "execute a compiled manifest").
		Action(c.run)

	cmd.Arg("manifest", "path to manifest.yaml").
		Required().
		StringVar(&c.manifestPath)
	cmd.Flag("env-file", "environment file").
		Default(".env").
		StringVar(&c.envfile)
	cmd.Flag("verbose", "enable debug logging").
		BoolVar(&c.verbose)
	cmd.Flag("dry-run", "validate the manifest and stop").
		BoolVar(&c.dryRun)
}
