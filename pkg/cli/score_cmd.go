package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"etl-orchestrator/internal/domain"
)

func newScoreCmd(opts *rootOptions) *cobra.Command {
	var (
		entity string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score records against the active DQ rules of an entity type",
		Long:  "Reads a JSON array of records from --file (or stdin with -) and prints each record's score.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := readRecords(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := s.Scores.Score(cmd.Context(), entity, records)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), results)
			}
			rows := make([][]string, 0, len(results))
			for i, r := range results {
				var missed []string
				for _, o := range r.Breakdown {
					if !o.Met {
						missed = append(missed, o.FieldName+":"+string(o.RuleType))
					}
				}
				rejected := "no"
				if r.Rejected {
					rejected = "yes"
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1), strconv.Itoa(r.Earned) + "/" + strconv.Itoa(r.Max), rejected, strings.Join(missed, ", "),
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"record", "score", "rejected", "missed"}, rows)
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "Entity type whose rules apply (required)")
	cmd.Flags().StringVar(&file, "file", "-", "JSON file holding an array of records, - for stdin")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func readRecords(stdin io.Reader, file string) ([]domain.Row, error) {
	r := stdin
	if file != "-" {
		f, err := os.Open(file) //nolint:gosec // path is operator-controlled
		if err != nil {
			return nil, err
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	var records []domain.Row
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if len(records) == 0 {
		return nil, domain.ErrValidation("no records to score")
	}
	return records, nil
}
