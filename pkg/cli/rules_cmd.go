package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func newRulesCmd(cc *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage transformation rules",
	}
	cmd.AddCommand(newRulesListCmd(cc), newRulesCreateCmd(cc), newRulesDisableCmd(cc), newRulesDryRunCmd(cc))
	return cmd
}

func newRulesListCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list SOURCE_ID",
		Short: "List all rule versions for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cc.client.get(cmd.Context(), "/v1/rules?source_id="+url.QueryEscape(args[0]), &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// readRuleSpec loads a rule spec JSON document from a file or stdin.
func readRuleSpec(cmd *cobra.Command, file string) (json.RawMessage, error) {
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
		return nil, fmt.Errorf("read rule spec: %w", err)
	}
	return json.RawMessage(data), nil
}

func newRulesCreateCmd(cc *cliContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule from a JSON spec (--file or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readRuleSpec(cmd, file)
			if err != nil {
				return err
			}
			var out any
			if err := cc.client.postRaw(cmd.Context(), "/v1/rules", "application/json", spec, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule spec file (defaults to stdin)")
	return cmd
}

func newRulesDisableCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disable RULE_ID",
		Short: "Disable a rule version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cc.client.postJSON(cmd.Context(), "/v1/rules/"+args[0]+"/disable", struct{}{}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newRulesDryRunCmd(cc *cliContext) *cobra.Command {
	var (
		file   string
		sample int
	)
	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Evaluate a rule spec against pending records without writing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readRuleSpec(cmd, file)
			if err != nil {
				return err
			}
			body := map[string]any{"rule": spec}
			if sample > 0 {
				body["sample_size"] = sample
			}
			var out any
			if err := cc.client.postJSON(cmd.Context(), "/v1/rules/dry-run", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule spec file (defaults to stdin)")
	cmd.Flags().IntVar(&sample, "sample", 0, "sample size")
	return cmd
}
