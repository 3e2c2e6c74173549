// Package cli implements the schemaflow command line client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type cliContext struct {
	client *Client
	output string
}

func newRootCmd() *cobra.Command {
	var (
		host   string
		output string
	)
	cc := &cliContext{}

	rootCmd := &cobra.Command{
		Use:           "schemaflow",
		Short:         "Schema discovery and transformation engine CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("SCHEMAFLOW_HOST"); v != "" {
					host = v
				}
			}
			cc.client = NewClient(host)
			cc.output = output
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "server base URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "output format (json)")

	rootCmd.AddCommand(
		newSourcesCmd(cc),
		newIngestCmd(cc),
		newFieldsCmd(cc),
		newChangesCmd(cc),
		newRulesCmd(cc),
		newMaterializeCmd(cc),
		newRunsCmd(cc),
		newRequeueCmd(cc),
		newApplyCmd(cc),
		newCommandsCmd(),
	)
	return rootCmd
}

// printJSON renders any API response as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
