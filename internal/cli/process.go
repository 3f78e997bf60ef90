package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
)

var (
	reqProject string
	reqModel   string
	reqFile    string
)

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&reqProject, "project", "", "project id")
	cmd.Flags().StringVar(&reqModel, "model", "", "ifc_model id")
	cmd.Flags().StringVar(&reqFile, "file", "", "local path or gs://bucket/key of the IFC file")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("file")
}

func requestFromFlags() (pipeline.Request, error) {
	projectID, err := parseUUIDFlag("project", reqProject)
	if err != nil {
		return pipeline.Request{}, err
	}
	modelID, err := parseUUIDFlag("model", reqModel)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{ProjectID: projectID, ModelID: modelID, FilePath: reqFile}
	return req, req.Validate()
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one IFC model synchronously and print the result",
	Long: `Run the full pipeline for one model in this process: hash, cache lookup,
extraction, clash detection, solution ranking and persistence. The result
is printed as JSON; the exit status is non-zero when processing failed.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	addRequestFlags(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	req, err := requestFromFlags()
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

	if a.Clients.Objects != nil {
		local, cleanup, err := a.Clients.Objects.Fetch(cmd.Context(), req.FilePath)
		if err != nil {
			return err
		}
		defer cleanup()
		req.FilePath = local
	}

	res := a.Services.Pipeline.Process(cmd.Context(), req)
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("processing failed: %s", res.ErrorCode)
	}
	return nil
}
