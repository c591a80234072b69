package main

import (
	"github.com/osiris-data/osiris/cli"
)

func main() {
	cli.Command()
}
