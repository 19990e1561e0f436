// Package main is the entry point for the etl CLI binary.
package main

import (
	"os"

	"etl-orchestrator/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
