package cli

import (
	"github.com/spf13/cobra"
)

func newSourcesCmd(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage registered sources",
	}
	cmd.AddCommand(newSourcesListCmd(cc), newSourcesCreateCmd(cc), newSourcesStatusCmd(cc), newSourcesShapesCmd(cc))
	return cmd
}

func newSourcesListCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out any
			if err := cc.client.get(cmd.Context(), "/v1/sources", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newSourcesCreateCmd(cc *cliContext) *cobra.Command {
	var (
		sourceType string
		origin     string
		cadence    string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a new source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"name": args[0],
				"type": sourceType,
			}
			if origin != "" {
				body["origin"] = origin
			}
			if cadence != "" {
				body["cadence"] = cadence
			}
			var out any
			if err := cc.client.postJSON(cmd.Context(), "/v1/sources", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&sourceType, "type", "webhook", "source type")
	cmd.Flags().StringVar(&origin, "origin", "", "upstream locator")
	cmd.Flags().StringVar(&cadence, "cadence", "", "cron expression for scheduled materialization")
	return cmd
}

func newSourcesStatusCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status SOURCE_ID STATUS",
		Short: "Set a source's status (active|paused|error)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			err := cc.client.postJSON(cmd.Context(), "/v1/sources/"+args[0]+"/status",
				map[string]string{"status": args[1]}, &out)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newSourcesShapesCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "shapes SOURCE_ID",
		Short: "Show per-fingerprint record counts for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cc.client.get(cmd.Context(), "/v1/sources/"+args[0]+"/shapes", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
