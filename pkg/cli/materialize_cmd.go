package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newMaterializeCmd(cc *cliContext) *cobra.Command {
	var recordIDs []string
	cmd := &cobra.Command{
		Use:   "materialize SOURCE_ID",
		Short: "Run materialization for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if len(recordIDs) > 0 {
				body["record_ids"] = recordIDs
			}
			var out any
			err := cc.client.postJSON(cmd.Context(), "/v1/sources/"+args[0]+"/materialize", body, &out)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&recordIDs, "record", nil, "limit to specific record IDs (repeatable)")
	return cmd
}

func newRunsCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "runs SOURCE_ID",
		Short: "List a source's materialization runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cc.client.get(cmd.Context(), "/v1/sources/"+args[0]+"/runs", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newApplyCmd(cc *cliContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a YAML manifest of sources, targets, and rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				data []byte
				err  error
			)
			if file != "" {
				data, err = os.ReadFile(file)
			} else {
				data, err = readAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}

			var out any
			if err := cc.client.postRaw(cmd.Context(), "/v1/apply", "application/yaml", data, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file (defaults to stdin)")
	return cmd
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 8<<20))
}
