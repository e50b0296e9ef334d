package main

import (
	"os"

	"github.com/fluxmedia/flux/cmd/flux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
