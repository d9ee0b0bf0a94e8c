// Command plantai ingests plant documentation into a vector store and
// answers questions over it. It provides a CLI (via Cobra) and an HTTP
// server for the web front end.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/plantai-go/cmd/plantai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
