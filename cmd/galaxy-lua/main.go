// Package main is the entry point for galaxy-lua.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/zot/galaxy-lua/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
