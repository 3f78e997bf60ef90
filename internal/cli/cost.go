package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
)

var (
	costProject    string
	costType       string
	costConfidence float64
	costParam      string
	costValue      float64
	costUnit       string

	suggestProject  string
	suggestConflict string
	suggestLimit    int

	listProject  string
	listConflict string
	listPair     []string
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Price remediation work with a project's own rates",
}

var costEstimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the cost of one solution type for a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseUUIDFlag("project", costProject)
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

		cost, err := a.Services.Estimates.Cost(cmd.Context(), projectID, bim.SolutionType(costType), costConfidence)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"project_id":     projectID,
			"solution_type":  costType,
			"confidence":     costConfidence,
			"estimated_cost": cost,
		})
	},
}

var costSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a project cost parameter (e.g. LABOR_HOUR)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseUUIDFlag("project", costProject)
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

		if err := a.Services.Estimates.SetParam(cmd.Context(), projectID, costParam, costValue, costUnit); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %g %s\n", costParam, costValue, costUnit)
		return nil
	},
}

var solutionsCmd = &cobra.Command{
	Use:   "solutions",
	Short: "Query stored solutions",
}

var solutionsSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "List solutions proposed for similar conflicts in the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseUUIDFlag("project", suggestProject)
		if err != nil {
			return err
		}
		conflictID, err := parseUUIDFlag("conflict", suggestConflict)
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

		out, err := a.Services.Estimates.Suggest(cmd.Context(), projectID, conflictID, suggestLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var solutionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the ranked solutions of one conflict",
	Long: `List the solutions stored for a conflict, given either its id or the
GlobalIds of the two clashing elements (in any order) within a project.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		byPair := len(listPair) > 0
		if byPair == (listConflict != "") {
			return fmt.Errorf("exactly one of --conflict or --pair is required")
		}
		if byPair && len(listPair) != 2 {
			return fmt.Errorf("--pair takes two GlobalIds, got %d", len(listPair))
		}
		var (
			projectID, conflictID uuid.UUID
			err                   error
		)
		if byPair {
			projectID, err = parseUUIDFlag("project", listProject)
		} else {
			conflictID, err = parseUUIDFlag("conflict", listConflict)
		}
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

		if !byPair {
			out, err := a.Services.Estimates.Solutions(cmd.Context(), conflictID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		}
		conflict, out, err := a.Services.Estimates.SolutionsForPair(cmd.Context(), projectID, listPair[0], listPair[1])
		if err != nil {
			return err
		}
		if conflict == nil {
			return fmt.Errorf("no conflict between %s and %s in project %s", listPair[0], listPair[1], projectID)
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"conflict":  conflict,
			"solutions": out,
		})
	},
}

func init() {
	costEstimateCmd.Flags().StringVar(&costProject, "project", "", "project id")
	costEstimateCmd.Flags().StringVar(&costType, "type", "", "solution type, e.g. beam_relocation")
	costEstimateCmd.Flags().Float64Var(&costConfidence, "confidence", 1, "confidence in (0,1]; lower raises the price")
	_ = costEstimateCmd.MarkFlagRequired("project")
	_ = costEstimateCmd.MarkFlagRequired("type")

	costSetCmd.Flags().StringVar(&costProject, "project", "", "project id")
	costSetCmd.Flags().StringVar(&costParam, "param", "", "parameter name")
	costSetCmd.Flags().Float64Var(&costValue, "value", 0, "parameter value")
	costSetCmd.Flags().StringVar(&costUnit, "unit", "", "unit label")
	_ = costSetCmd.MarkFlagRequired("project")
	_ = costSetCmd.MarkFlagRequired("param")
	_ = costSetCmd.MarkFlagRequired("value")

	costCmd.AddCommand(costEstimateCmd)
	costCmd.AddCommand(costSetCmd)

	solutionsSuggestCmd.Flags().StringVar(&suggestProject, "project", "", "project id")
	solutionsSuggestCmd.Flags().StringVar(&suggestConflict, "conflict", "", "conflict id")
	solutionsSuggestCmd.Flags().IntVar(&suggestLimit, "limit", 5, "maximum number of solutions")
	_ = solutionsSuggestCmd.MarkFlagRequired("project")
	_ = solutionsSuggestCmd.MarkFlagRequired("conflict")

	solutionsListCmd.Flags().StringVar(&listConflict, "conflict", "", "conflict id")
	solutionsListCmd.Flags().StringVar(&listProject, "project", "", "project id, required with --pair")
	solutionsListCmd.Flags().StringSliceVar(&listPair, "pair", nil, "two element GlobalIds, comma separated")

	solutionsCmd.AddCommand(solutionsSuggestCmd)
	solutionsCmd.AddCommand(solutionsListCmd)
}
