package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/service/pipeline"
)

// runFlags are the resolution overrides shared by plan and run.
type runFlags struct {
	disabledPolicy string
	strictGroups   bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.disabledPolicy, "disabled-policy", "", "Disabled dependency policy (satisfied, blocked)")
	cmd.Flags().BoolVar(&f.strictGroups, "strict-groups", false, "Run each parallel group of a phase as its own batch")
}

func (f *runFlags) request(cmd *cobra.Command, req pipeline.RunRequest) (pipeline.RunRequest, error) {
	policy, err := domain.ParseDisabledPolicy(f.disabledPolicy)
	if err != nil {
		return req, err
	}
	req.DisabledPolicy = policy
	if cmd.Flags().Changed("strict-groups") {
		strict := f.strictGroups
		req.StrictGroups = &strict
	}
	return req, nil
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the batches the next run would execute",
		Long:  "Validates the stored definitions and resolves them into ordered batches without running anything.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd, pipeline.RunRequest{Actor: defaultActor(), TriggerType: domain.TriggerTypeManual})
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Runs.Plan(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printResolution(cmd.OutOrStdout(), res)
		},
	}
	flags.register(cmd)
	return cmd
}

func printResolution(w io.Writer, res *domain.Resolution) error {
	rows := make([][]string, 0, len(res.Batches))
	for i, b := range res.Batches {
		group := "-"
		if b.Group != nil {
			group = strconv.Itoa(*b.Group)
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), strconv.Itoa(b.Phase), group, strings.Join(b.Pipelines, ", ")})
	}
	if err := printTable(w, []string{"batch", "phase", "group", "pipelines"}, rows); err != nil {
		return err
	}
	for _, warn := range res.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s declared order %d raised to phase %d\n", warn.Name, warn.Declared, warn.Computed)
	}
	for _, b := range res.Blocked {
		_, _ = fmt.Fprintf(w, "blocked: %s (%s)\n", b.Name, b.Reason)
	}
	return nil
}
