// Package main is the entry point for the apitables CLI binary.
package main

import (
	"os"

	cli "apitables/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
