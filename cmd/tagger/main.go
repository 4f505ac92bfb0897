// Command tagger serves image tag predictions and manages the prototype
// artifact.
//
// Usage:
//
//	tagger [flags] <command> [args]
//
// Commands:
//
//	serve       - Run the HTTP prediction service
//	predict     - Tag a single image file
//	prototypes  - Generate, inspect and search the prototype artifact
//
// Configuration is read from TAGGER_* environment variables and an optional
// .env file in the working directory.
package main

import (
	"fmt"
	"os"

	"github.com/FrenchMajesty/tagger/cmd/tagger/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
