package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"etl-orchestrator/internal/domain"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change configuration values",
	}
	cmd.AddCommand(newConfigGetCmd(opts))
	cmd.AddCommand(newConfigSetCmd(opts))
	cmd.AddCommand(newConfigListCmd(opts))
	cmd.AddCommand(newConfigAuditCmd(opts))
	return cmd
}

func newConfigGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <category> <key>",
		Short: "Print a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.Config.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), v)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), v.Value)
			return nil
		},
	}
}

func newConfigSetCmd(opts *rootOptions) *cobra.Command {
	var (
		valueType string
		reason    string
		actor     string
	)

	cmd := &cobra.Command{
		Use:   "set <category> <key> <value>",
		Short: "Change a configuration value",
		Long:  "Writes a configuration value and its audit entry. The value type defaults to the stored type.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			entry, err := s.Config.Set(cmd.Context(), domain.ConfigChange{
				Category:  args[0],
				Key:       args[1],
				Value:     args[2],
				ValueType: valueType,
				Actor:     actor,
				Reason:    reason,
			})
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), entry)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s -> %s\n",
				entry.Category, entry.Key, orNone(entry.OldValue), entry.NewValue)
			return nil
		},
	}

	cmd.Flags().StringVar(&valueType, "type", "", "Value type (STRING, NUMBER, BOOLEAN)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the audit entry (required)")
	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "Actor recorded on the audit entry")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func orNone(s *string) string {
	if s == nil {
		return "(none)"
	}
	return *s
}

func newConfigListCmd(opts *rootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configuration values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			values, err := s.Config.ListValues(cmd.Context())
			if err != nil {
				return err
			}
			filtered := values[:0]
			for _, v := range values {
				if category == "" || v.Category == category {
					filtered = append(filtered, v)
				}
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), filtered)
			}
			rows := make([][]string, 0, len(filtered))
			for _, v := range filtered {
				rows = append(rows, []string{v.Category, v.Key, v.Value, v.ValueType, v.UpdatedBy, formatTime(v.UpdatedAt)})
			}
			return printTable(cmd.OutOrStdout(), []string{"category", "key", "value", "type", "updated_by", "updated_at"}, rows)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only list values of this category")
	return cmd
}

func newConfigAuditCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		key      string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List configuration changes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			filter := domain.ConfigAuditFilter{Page: domain.PageRequest{MaxResults: limit}}
			if category != "" {
				filter.Category = &category
			}
			if key != "" {
				filter.Key = &key
			}
			entries, total, err := s.Config.ListAudit(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"data": entries, "total": total})
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					formatTime(e.ChangedAt), e.Category + "/" + e.Key, orNone(e.OldValue), e.NewValue, e.Actor, e.Reason,
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"changed_at", "value", "old", "new", "actor", "reason"}, rows)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().StringVar(&key, "key", "", "Filter by key")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultMaxResults, "Maximum entries to list")
	return cmd
}
