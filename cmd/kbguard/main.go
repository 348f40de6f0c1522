// Command kbguard is the entry point for the knowledge base governance
// pipeline. It provides a CLI interface (via Cobra) for ingesting and
// versioning documents, answering governed queries, and an HTTP server
// exposing the query pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/kbguard/kbguard-go/cmd/kbguard/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
