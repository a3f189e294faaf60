// Command ragcore is the entry point for the RAG query/ingest service.
// It provides a CLI (via Cobra) to run the HTTP server, the background job
// worker, trigger ingestion, and run ad hoc diagnostics against the
// configured model/embedding/store backends.
package main

import (
	"fmt"
	"os"

	"github.com/onekey/rag-core-go/cmd/ragcore/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
