// Package cli implements the vitruvius command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vitruvius-bim/vitruvius-backend/internal/app"
	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

var (
	configPath string
	logLevel   string
	version    = "dev"
)

// cmdContext holds the configuration and logger every command starts from.
type cmdContext struct {
	Config *config.Config
	Log    *logger.Logger
}

func (c *cmdContext) Close() {
	if c.Log != nil {
		c.Log.Sync()
	}
}

func initContext() (*cmdContext, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &cmdContext{Config: cfg, Log: log}, nil
}

// openApp wires the full application. The caller closes it.
func (c *cmdContext) openApp(ctx context.Context, migrate bool) (*app.App, error) {
	return app.New(ctx, *c.Config, c.Log, app.Options{Version: version, Migrate: migrate})
}

var rootCmd = &cobra.Command{
	Use:   "vitruvius",
	Short: "BIM model processing: IFC extraction, clash detection and remediation",
	Long: `vitruvius processes IFC building models: it extracts elements, detects
clashes between them, proposes ranked remediation options and persists the
results. Repeated runs over the same file content are served from a
content-addressed result cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VITRUVIUS_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(clashCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(solutionsCmd)
	rootCmd.AddCommand(sandboxExtractCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	rootCmd.Version = version
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUUIDFlag(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}
