package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"etl-orchestrator/internal/declarative"
	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/service/configstore"
	"etl-orchestrator/internal/service/dq"
)

const defaultConfigDir = "./etl-config"

// loadDesired loads and validates a definitions directory. Validation
// errors are printed and reported through an exitError.
func loadDesired(cmd *cobra.Command, opts *rootOptions, dir string, load declarative.LoadOptions,
	validate declarative.ValidateOptions) (*declarative.DesiredState, error) {
	desired, err := declarative.LoadDirectoryWithOptions(dir, load)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	errs := declarative.Validate(desired, validate)
	if len(errs) == 0 {
		return desired, nil
	}
	if opts.output == "json" {
		msgs := make([]string, len(errs))
		for i, ve := range errs {
			msgs[i] = ve.Error()
		}
		if err := printJSON(cmd.OutOrStdout(), map[string]any{"valid": false, "errors": msgs}); err != nil {
			return nil, err
		}
	} else {
		declarative.FormatValidationErrors(cmd.ErrOrStderr(), errs, opts.noColor)
	}
	return nil, &exitError{code: 1}
}

// storedState reads the definitions a diff or export compares against. The
// audit marker written by apply is not a managed value.
func storedState(ctx context.Context, s *session) (domain.SnapshotData, error) {
	state, err := s.Config.State(ctx)
	if err != nil {
		return state, fmt.Errorf("read stored definitions: %w", err)
	}
	values := state.Values[:0]
	for _, v := range state.Values {
		if v.Category != configstore.CategoryDefinitions {
			values = append(values, v)
		}
	}
	state.Values = values
	return state, nil
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		configDir          string
		allowUnknownFields bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate declarative definition files offline",
		Long:  "Reads YAML definition files and checks them for errors without opening the metadata store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadDesired(cmd, opts, configDir,
				declarative.LoadOptions{AllowUnknownFields: allowUnknownFields},
				declarative.ValidateOptions{Predicates: dq.NewPredicateRegistry()}); err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"valid": true})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Definitions are valid.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", defaultConfigDir, "Path to the definitions directory")
	cmd.Flags().BoolVar(&allowUnknownFields, "allow-unknown-fields", false, "Allow unknown YAML fields")
	return cmd
}

func newDiffCmd(opts *rootOptions) *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show changes required to match the definition files",
		Long: "Reads YAML definition files, compares them with the metadata store and prints the changes " +
			"apply would make. Exits with status 2 when there are changes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			plan, _, err := diffDefinitions(cmd, opts, s, configDir)
			if err != nil {
				return err
			}
			if err := writePlan(cmd.OutOrStdout(), opts, plan); err != nil {
				return err
			}
			if plan.HasChanges() {
				return &exitError{code: 2}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", defaultConfigDir, "Path to the definitions directory")
	return cmd
}

func diffDefinitions(cmd *cobra.Command, opts *rootOptions, s *session, dir string) (*declarative.Plan, *declarative.DesiredState, error) {
	desired, err := loadDesired(cmd, opts, dir, declarative.LoadOptions{}, declarative.ValidateOptions{
		KnownUnits: s.Units.Names(),
		Predicates: s.Predicates,
	})
	if err != nil {
		return nil, nil, err
	}
	actual, err := storedState(cmd.Context(), s)
	if err != nil {
		return nil, nil, err
	}
	return declarative.Diff(desired, actual), desired, nil
}

func writePlan(w io.Writer, opts *rootOptions, plan *declarative.Plan) error {
	if opts.output == "json" {
		return declarative.FormatJSON(w, plan)
	}
	declarative.FormatText(w, plan, opts.noColor)
	return nil
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var (
		configDir   string
		autoApprove bool
		reason      string
		actor       string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply definition files to the metadata store",
		Long: "Reads YAML definition files, shows the changes and upserts them into the metadata store. " +
			"Definitions missing from the files are left untouched.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			plan, desired, err := diffDefinitions(cmd, opts, s, configDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.output != "json" {
				declarative.FormatText(out, plan, opts.noColor)
			}
			if !plan.HasChanges() {
				if opts.output == "json" {
					return printJSON(out, map[string]any{"applied": false})
				}
				return nil
			}

			if !autoApprove {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return fmt.Errorf("confirmation required but stdin is not a terminal; use --auto-approve")
				}
				_, _ = fmt.Fprint(out, "\nApply these changes? [y/N] ")
				answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				answer = strings.TrimSpace(strings.ToLower(answer))
				if answer != "y" && answer != "yes" {
					_, _ = fmt.Fprintln(out, "Apply cancelled.")
					return nil
				}
			}

			res, err := s.Config.Apply(cmd.Context(), actor, reason, desired.SnapshotData())
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(out, map[string]any{"applied": true, "result": res})
			}
			_, _ = fmt.Fprintf(out, "\nApply complete: %s\n", res)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", defaultConfigDir, "Path to the definitions directory")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive confirmation prompt")
	cmd.Flags().StringVar(&reason, "reason", "etl apply", "Reason recorded on audited changes")
	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "Actor recorded on audited changes")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		configDir string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored definitions as YAML files",
		Long:  "Reads the definitions from the metadata store and writes them as a definitions directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			state, err := storedState(cmd.Context(), s)
			if err != nil {
				return err
			}
			if err := declarative.ExportDirectory(configDir, state, overwrite); err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": "ok", "path": configDir})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported definitions to %s\n", configDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", defaultConfigDir, "Path to the output directory")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing files in the output directory")
	return cmd
}
