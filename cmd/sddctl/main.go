package main

import (
	"os"

	"github.com/psantana5/sdd-inspector/cmd/sddctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
