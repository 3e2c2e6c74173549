package cli

import (
	"net/url"

	"github.com/spf13/cobra"
)

func newFieldsCmd(cc *cliContext) *cobra.Command {
	var mapping string
	cmd := &cobra.Command{
		Use:   "fields SOURCE_ID",
		Short: "List a source's discovered fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/sources/" + args[0] + "/fields"
			if mapping != "" {
				path += "?mapping_status=" + url.QueryEscape(mapping)
			}
			var out any
			if err := cc.client.get(cmd.Context(), path, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&mapping, "mapping", "", "filter by mapping status (unmapped|mapped|ignored)")
	return cmd
}

func newChangesCmd(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Inspect and review schema change events",
	}
	cmd.AddCommand(newChangesListCmd(cc), newChangesReviewCmd(cc))
	return cmd
}

func newChangesListCmd(cc *cliContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list SOURCE_ID",
		Short: "List a source's schema change events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/sources/" + args[0] + "/changes"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			var out any
			if err := cc.client.get(cmd.Context(), path, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by review status (pending|acknowledged|dismissed)")
	return cmd
}

func newChangesReviewCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "review EVENT_ID ACTION",
		Short: "Review a change event (acknowledge|dismiss)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			err := cc.client.postJSON(cmd.Context(), "/v1/changes/"+args[0]+"/review",
				map[string]string{"action": args[1]}, &out)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
