package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	approveReject bool
	approveNotes  string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "Reject the action instead of approving it")
	approveCmd.Flags().StringVar(&approveNotes, "notes", "", "Reviewer notes")
}

var approveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Resolve a pending checkpointed action",
	Long: "Approves (or with --reject, rejects) a checkpointed action on a\n" +
		"running server. Approval commits the held risk score into the\n" +
		"session budget; rejection discards it.",
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	actionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid action id %q", args[0])
	}

	rec, err := newClient("").Approve(cmd.Context(), actionID, !approveReject, approveNotes)
	if err != nil {
		return err
	}

	fmt.Printf("Action %d (%s on %s): %s\n", rec.ID, rec.Action, rec.Target, rec.Status)
	return nil
}
