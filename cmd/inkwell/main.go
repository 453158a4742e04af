package main

import (
	"os"

	"github.com/calder/inkwell/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
