package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(budgetCmd)
}

var budgetCmd = &cobra.Command{
	Use:   "budget <session-id>",
	Short: "Show a session's risk budget",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudget,
}

func runBudget(cmd *cobra.Command, args []string) error {
	state, err := newClient(args[0]).Budget(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Session:     %s\n", state.SessionID)
	fmt.Printf("Budget:      %.2f\n", state.RiskBudget)
	fmt.Printf("Cumulative:  %.2f\n", state.CumulativeRisk)
	fmt.Printf("Remaining:   %.2f\n", state.RemainingBudget)
	fmt.Printf("Utilization: %.1f%%\n", state.UtilizationPercent)
	return nil
}
