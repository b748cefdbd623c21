package main

import (
	"os"

	"github.com/jdziat/docpipeline/cmd/docpipeline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
