// Package cli implements the etl command-line interface. Commands open the
// metadata store and warehouse directly and drive the same services as the
// HTTP server.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"etl-orchestrator/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	output    string
	metaDB    string
	warehouse string
	envFile   string
	noColor   bool
}

// exitError ends the process with code after the command printed its own
// result.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]string{
				"error": err.Error(),
				"code":  errorKind(err),
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func errorKind(err error) string {
	var (
		nf  *domain.NotFoundError
		val *domain.ValidationError
		cf  *domain.ConflictError
		cfg *domain.ConfigurationError
		cy  *domain.CycleDetectedError
	)
	switch {
	case errors.As(err, &nf):
		return "NOT_FOUND"
	case errors.As(err, &val):
		return "VALIDATION"
	case errors.As(err, &cf):
		return "CONFLICT"
	case errors.As(err, &cfg):
		return domain.ErrorCodeConfiguration
	case errors.As(err, &cy):
		return "CYCLE"
	default:
		return domain.ErrorCodeInternal
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "etl",
		Short:         "Metadata-driven ETL orchestrator",
		Long:          "Plan, run and inspect metadata-driven ETL pipelines, and manage their definitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Precedence: flag > env > terminal detection.
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("ETL_OUTPUT"); v != "" {
					opts.output = v
				} else if term.IsTerminal(int(os.Stdout.Fd())) {
					opts.output = "table"
				} else {
					opts.output = "json"
				}
			}
			return validateOutputFormat(opts.output)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Output format (table, json); defaults to table on a terminal")
	rootCmd.PersistentFlags().StringVar(&opts.metaDB, "meta-db", "", "Metadata store path (overrides META_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&opts.warehouse, "warehouse", "", "DuckDB warehouse path (overrides WAREHOUSE_PATH)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	// Orchestration
	rootCmd.AddCommand(newPlanCmd(opts))
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newExecutionsCmd(opts))
	rootCmd.AddCommand(newScoreCmd(opts))

	// Declarative definitions
	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newDiffCmd(opts))
	rootCmd.AddCommand(newApplyCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))

	// Configuration values
	rootCmd.AddCommand(newConfigCmd(opts))

	rootCmd.AddCommand(newVersionCmd(opts))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "etl version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
