package main

import (
	"os"

	"github.com/practicehq/engage/cmd/engage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
