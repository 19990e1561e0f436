package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/service/pipeline"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		flags  runFlags
		dryRun bool
		params map[string]string
		actor  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every enabled pipeline in dependency order",
		Long: "Takes a configuration snapshot, resolves it into batches and executes them. " +
			"Interrupting the command cancels the run: attempts in flight finish and the rest is skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := flags.request(cmd, pipeline.RunRequest{
				Actor:       actor,
				TriggerType: domain.TriggerTypeManual,
				Params:      params,
			})
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if dryRun {
				res, err := s.Runs.Plan(cmd.Context(), req)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), res)
				}
				return printResolution(cmd.OutOrStdout(), res)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				if cmd.Context().Err() == nil {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "cancelling run, waiting for attempts in flight...")
				}
			}()

			report, err := s.Runs.Execute(ctx, req)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else if err := printReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status != domain.RunStatusSuccess {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve and print the batches without executing them")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Run parameter passed to units as key=value (repeatable)")
	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "Actor recorded on the run")
	return cmd
}

func printReport(w io.Writer, r *domain.RunReport) error {
	rows := make([][]string, 0, len(r.Pipelines))
	for _, p := range r.Pipelines {
		msg := p.Error
		if p.ErrorCode != "" {
			msg = p.ErrorCode + ": " + msg
		}
		rows = append(rows, []string{
			p.Name, p.Status, strconv.Itoa(p.Attempts),
			formatInt(p.RowsRead), formatInt(p.RowsLoaded), formatInt(p.RowsRejected), msg,
		})
	}
	if err := printTable(w, []string{"pipeline", "status", "attempts", "read", "loaded", "rejected", "error"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nrun %s %s in %s\n", r.BatchID, r.Status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return err
}
