// Package main provides the entry point for the verity CLI.
package main

import (
	"os"

	"github.com/randalmurphal/verity/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
