// Package main provides the songlake CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/songlake/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
