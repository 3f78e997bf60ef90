// Command vitruvius runs the IFC processing worker and its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cli"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
