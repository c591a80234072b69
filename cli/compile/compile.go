package compile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/osiris-data/osiris/config"
	osirisErrors "github.com/osiris-data/osiris/errors"
	"github.com/osiris-data/osiris/internal/compiler"
	"github.com/osiris-data/osiris/internal/registry"
	"github.com/osiris-data/osiris/internal/session"
	"github.com/osiris-data/osiris/logger"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gofrs/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type compileCommand struct {
	envfile string
	omlPath string
	out     string
	profile string
	params  []string
	mode    string
}

func (c *compileCommand) run(*kingpin.ParseContext) error {
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

	cliParams := make(map[string]string, len(c.params))
	for _, raw := range c.params {
		k, v, err := compiler.ParseCLIParam(raw)
		if err != nil {
			fail(nil, err)
		}
		cliParams[k] = v
	}

	reg, err := registry.LoadSpecs(filepath.Join(cfg.Home, "components"))
	if err != nil {
		fail(nil, err)
	}

	sess, err := session.Open(cfg.SessionsDir, "compile", sessionID(), nil)
	if err != nil {
		logrus.WithError(err).Errorln("cannot open session")
		return err
	}

	res, err := compiler.Compile(compiler.Options{
		OMLPath:   c.omlPath,
		OutDir:    c.out,
		Profile:   c.profile,
		CLIParams: cliParams,
		EnvParams: cfg.Param,
		Mode:      compiler.Mode(c.mode),
		Registry:  reg,
		Log:       sess,
	})
	if err != nil {
		fail(sess, err)
	}
	sess.Close()

	if res.Reused {
		fmt.Printf("compile: reused cached manifest at %s\n", filepath.Join(c.out, "manifest.yaml"))
	} else {
		fmt.Printf("compile: wrote %s\n", filepath.Join(c.out, "manifest.yaml"))
	}
	fmt.Printf("oml_fp: %s\nparams_fp: %s\n", res.OMLFingerprint, res.ParamsFingerprint)
	return nil
}

// fail reports err, closes the session if one is open, and exits with the
// code the error taxonomy assigns.
func fail(sess *session.Context, err error) {
	logrus.WithError(err).Errorln("compile failed")
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

// Register the compile command.
func Register(app *kingpin.Application) {
	c := new(compileCommand)

	cmd := app.Command("compile", "compile an OML pipeline into a manifest").
		Action(c.run)

	cmd.Arg("oml", "path to the OML pipeline file").
		Required().
		StringVar(&c.omlPath)
	cmd.Flag("env-file", "environment file").
		Default(".env").
		StringVar(&c.envfile)
	cmd.Flag("out", "output directory for the compiled manifest").
		Default("compiled").
		StringVar(&c.out)
	cmd.Flag("profile", "parameter profile to apply").
		StringVar(&c.profile)
	cmd.Flag("param", "parameter override as KEY=VALUE, repeatable").
		StringsVar(&c.params)
	cmd.Flag("compile", "cache mode").
		Default("auto").
		EnumVar(&c.mode, "auto", "force", "never")
}
