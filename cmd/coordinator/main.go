package main

import (
	"os"

	"github.com/renwick/coordinator/cmd/coordinator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
