// Command everest runs the portfolio order execution engine: the HTTP API,
// the settlement worker, and one-shot administrative commands.
package main

import (
	"os"

	"github.com/alanyoungcy/everest/cmd/everest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
