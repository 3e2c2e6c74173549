package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newIngestCmd(cc *cliContext) *cobra.Command {
	var (
		sourceName  string
		sourceID    string
		externalRef string
		file        string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Submit a payload for ingestion",
		Long:  "Reads a JSON payload from --file or stdin and submits it to the named source.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				payload []byte
				err     error
			)
			if file != "" {
				payload, err = os.ReadFile(file)
			} else {
				payload, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			body := map[string]any{"payload": json.RawMessage(payload)}
			if sourceID != "" {
				body["source_id"] = sourceID
			}
			if sourceName != "" {
				body["source_name"] = sourceName
			}
			if externalRef != "" {
				body["external_ref"] = externalRef
			}

			var out any
			if err := cc.client.postJSON(cmd.Context(), "/v1/ingest", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "source name")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source ID (alternative to --source)")
	cmd.Flags().StringVar(&externalRef, "ref", "", "external reference for the record")
	cmd.Flags().StringVarP(&file, "file", "f", "", "payload file (defaults to stdin)")
	return cmd
}

func newRequeueCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue RECORD_ID",
		Short: "Return an errored record to the pending queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cc.client.postJSON(cmd.Context(), "/v1/records/"+args[0]+"/requeue", struct{}{}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
