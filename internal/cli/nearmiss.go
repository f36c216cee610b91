package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/riskgate/riskgate/internal/model"
)

var (
	nearMissType        string
	nearMissSeverity    float64
	nearMissDescription string
	nearMissSession     string
)

func init() {
	rootCmd.AddCommand(nearMissCmd)
	nearMissCmd.Flags().StringVarP(&nearMissType, "type", "t", "", "Near-miss type (required): "+nearMissTypeList())
	nearMissCmd.Flags().Float64VarP(&nearMissSeverity, "severity", "s", 0.5, "Severity in [0,1]")
	nearMissCmd.Flags().StringVarP(&nearMissDescription, "description", "d", "", "What almost happened")
	nearMissCmd.Flags().StringVar(&nearMissSession, "session", "cli", "Session id to record under")
	nearMissCmd.MarkFlagRequired("type")
}

var nearMissCmd = &cobra.Command{
	Use:   "near-miss <action-pattern>",
	Short: "Record a near-miss for an action pattern",
	Long: "Reports an incident that almost caused harm. Future evaluations of\n" +
		"the same action name score higher until the event decays.",
	Args: cobra.ExactArgs(1),
	RunE: runNearMiss,
}

func runNearMiss(cmd *cobra.Command, args []string) error {
	ev, err := newClient(nearMissSession).RecordNearMiss(
		cmd.Context(), args[0], nearMissType, nearMissSeverity, nearMissDescription)
	if err != nil {
		return err
	}

	fmt.Printf("Recorded near-miss %d: %s on %q (severity %.2f)\n", ev.ID, ev.Type, ev.Pattern, ev.Severity)
	return nil
}

func nearMissTypeList() string {
	names := make([]string, len(model.NearMissTypes))
	for i, t := range model.NearMissTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
