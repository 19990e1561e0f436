package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"etl-orchestrator/internal/domain"
)

func newExecutionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "executions",
		Aliases: []string{"exec"},
		Short:   "Inspect the execution log",
	}
	cmd.AddCommand(newExecutionsListCmd(opts))
	cmd.AddCommand(newExecutionsStatsCmd(opts))
	return cmd
}

// executionFlags are the execution log filters.
type executionFlags struct {
	pipeline string
	batchID  string
	status   string
	since    time.Duration
}

func (f *executionFlags) register(cmd *cobra.Command, withBatch bool) {
	cmd.Flags().StringVar(&f.pipeline, "pipeline", "", "Filter by pipeline name")
	if withBatch {
		cmd.Flags().StringVar(&f.batchID, "batch", "", "Filter by batch ID")
		cmd.Flags().StringVar(&f.status, "status", "", "Filter by status (RUNNING, SUCCESS, FAILED, SKIPPED)")
	}
	cmd.Flags().DurationVar(&f.since, "since", 0, "Only records started within this duration, e.g. 24h")
}

func (f *executionFlags) filter() domain.ExecutionFilter {
	var filter domain.ExecutionFilter
	if f.pipeline != "" {
		filter.Pipeline = &f.pipeline
	}
	if f.batchID != "" {
		filter.BatchID = &f.batchID
	}
	if f.status != "" {
		status := strings.ToUpper(f.status)
		filter.Status = &status
	}
	if f.since > 0 {
		since := time.Now().Add(-f.since)
		filter.Since = &since
	}
	return filter
}

func newExecutionsListCmd(opts *rootOptions) *cobra.Command {
	var (
		flags executionFlags
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List execution records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			filter := flags.filter()
			filter.Page = domain.PageRequest{MaxResults: limit}
			recs, total, err := s.Executions.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"data": recs, "total": total})
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []string{
					formatTime(r.StartTs), r.PipelineName, r.BatchID, r.Status, strconv.Itoa(r.RetryAttempt),
					formatInt(r.RowsRead), formatInt(r.RowsLoaded), formatInt(r.RowsRejected),
					strings.TrimPrefix(deref(r.ErrorCode)+": "+deref(r.ErrorMessage), ": "),
				})
			}
			if err := printTable(cmd.OutOrStdout(),
				[]string{"started", "pipeline", "batch", "status", "retry", "read", "loaded", "rejected", "error"}, rows); err != nil {
				return err
			}
			if int64(len(recs)) < total {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nshowing %d of %d records\n", len(recs), total)
			}
			return nil
		},
	}

	flags.register(cmd, true)
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to list")
	return cmd
}

func newExecutionsStatsCmd(opts *rootOptions) *cobra.Command {
	var flags executionFlags

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the execution log per pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.Executions.Stats(cmd.Context(), flags.filter())
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			rows := make([][]string, 0, len(stats))
			for _, st := range stats {
				rows = append(rows, []string{
					st.PipelineName, formatInt(st.SuccessCount), formatInt(st.FailureCount),
					formatInt(st.SkippedCount), formatInt(st.RunningCount),
					strconv.FormatFloat(st.AvgDurationSeconds, 'f', 1, 64),
				})
			}
			return printTable(cmd.OutOrStdout(),
				[]string{"pipeline", "success", "failed", "skipped", "running", "avg_seconds"}, rows)
		},
	}

	flags.register(cmd, false)
	return cmd
}
