// The main package for the ingestd executable.
package main

import (
	"github.com/sitechat/ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
