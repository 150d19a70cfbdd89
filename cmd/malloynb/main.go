// Package main provides the malloynb command.
package main

import (
	"os"

	"github.com/leapstack-labs/malloynb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
