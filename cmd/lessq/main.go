// Package main is the entry point for the lessq CLI.
package main

import (
	"os"

	"github.com/lessq/lessq/cmd/lessq/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
