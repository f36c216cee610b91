package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riskgate/riskgate/internal/policy"
)

func init() {
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and validate policy documents",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a policy document",
	Long: "Parses and validates a policy YAML file.\n" +
		"Exit code 0 if valid, 1 with the offending fields otherwise.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, hash, err := policy.LoadWithHash(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("OK  %s  %s\n", args[0], hash)
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the effective policy as JSON",
	Long:  "Without a path, prints the built-in default policy.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		pol, err := policy.Load(path)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(pol, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
