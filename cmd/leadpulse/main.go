package main

import (
	"os"

	"github.com/leadpulse/leadpulse/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
