package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vitruvius-bim/vitruvius-backend/internal/app"
	"github.com/vitruvius-bim/vitruvius-backend/internal/clash"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
)

var clashCmd = &cobra.Command{
	Use:   "clash",
	Short: "Run clash detection outside the pipeline",
}

var clashFederatedCmd = &cobra.Command{
	Use:   "federated <model-a.ifc> <model-b.ifc>",
	Short: "Report clashes between the elements of two discipline models",
	Long: `Extract both files and compare every element of the first with every
element of the second. Boxes are normalized to meters before comparison.
Nothing is persisted; the conflicts are printed as JSON.`,
	Args: cobra.ExactArgs(2),
	RunE: runClashFederated,
}

var clashProject string

var clashProjectCmd = &cobra.Command{
	Use:   "project",
	Short: "Queue clash detection across every processed model of a project",
	Long: `Create an inter_model_clash job for the project. The worker compares each
pair of processed models and stores the clashes as project conflicts. A job
already queued or running for the project is reused.`,
	Args: cobra.NoArgs,
	RunE: runClashProject,
}

func init() {
	clashProjectCmd.Flags().StringVar(&clashProject, "project", "", "project id")
	_ = clashProjectCmd.MarkFlagRequired("project")
	clashCmd.AddCommand(clashFederatedCmd, clashProjectCmd)
}

func runClashProject(cmd *cobra.Command, args []string) error {
	projectID, err := parseUUIDFlag("project", clashProject)
	if err != nil {
		return err
	}
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()
	a, err := c.openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	job, created, err := a.Services.Jobs.EnqueueProjectClash(cmd.Context(), projectID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"created": created,
	})
}

func runClashFederated(cmd *cobra.Command, args []string) error {
	c, err := initContext()
	if err != nil {
		return err
	}
	defer c.Close()

	extractor, err := app.NewExtractor(c.Log, c.Config.Sandbox, nil)
	if err != nil {
		return err
	}
	sources := make([]clash.Source, 0, len(args))
	for _, path := range args {
		m, err := extractor.Extract(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		sources = append(sources, clash.Source{Name: filepath.Base(path), Model: m})
	}

	d := clash.NewDetector(c.Log, clash.Options{
		Mode:        clash.Mode(c.Config.Pipeline.ClashMode),
		ClearanceMM: c.Config.Pipeline.ClearanceMM,
	})
	conflicts, err := d.DetectFederated(cmd.Context(), sources[0], sources[1])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), struct {
		ModelA    string                  `json:"model_a"`
		ModelB    string                  `json:"model_b"`
		Count     int                     `json:"count"`
		Conflicts []bim.ConflictCandidate `json:"conflicts"`
	}{sources[0].Name, sources[1].Name, len(conflicts), conflicts})
}
