package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List actions awaiting approval",
	Long:  "Shows every checkpointed action on a running server that has not been resolved yet.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	list, err := newClient("").Pending(cmd.Context())
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No pending actions.")
		return nil
	}

	fmt.Printf("%-6s %-20s %-25s %-25s %-6s %s\n", "ID", "SESSION", "ACTION", "TARGET", "RISK", "REASON")
	for _, a := range list {
		fmt.Printf("%-6d %-20s %-25s %-25s %.2f   %s\n",
			a.ID,
			truncate(a.SessionID, 20),
			truncate(a.Action, 25),
			truncate(a.Target, 25),
			a.RiskScore,
			truncate(a.CheckpointReason, 50),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
