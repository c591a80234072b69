// Package cli wires the osiris subcommands together.
package cli

import (
	"os"

	"github.com/osiris-data/osiris/cli/compile"
	"github.com/osiris-data/osiris/cli/logs"
	"github.com/osiris-data/osiris/cli/run"

	"github.com/alecthomas/kingpin/v2"
)

// Command parses the command line arguments and then executes a
// subcommand program.
func Command() {
	app := kingpin.New("osiris", "Declarative data-pipeline compiler and runner")
	app.HelpFlag.Short('h')
	compile.Register(app)
	run.Register(app)
	logs.Register(app)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
