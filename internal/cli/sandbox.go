package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/sandbox"
)

// sandboxExtractCmd is the child side of the sandbox executor. It reads one
// request from stdin and writes one response to stdout, so it must not load
// configuration or open any connection.
var sandboxExtractCmd = &cobra.Command{
	Use:    sandbox.ChildCommand,
	Short:  "Extract one IFC file under resource limits (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		level := logLevel
		if level == "" {
			level = "warn"
		}
		log, err := logger.New("production", level)
		if err != nil {
			log = logger.NewNop()
		}
		code := sandbox.RunChild(log, os.Stdin, os.Stdout, sandbox.DefaultExtract(log))
		log.Sync()
		os.Exit(code)
	},
}
