package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/riskgate/riskgate/internal/engine"
	"github.com/riskgate/riskgate/internal/model"
	"github.com/riskgate/riskgate/internal/policy"
)

var (
	checkPolicy   string
	checkSession  string
	checkTarget   string
	checkMetadata []string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to policy YAML (optional)")
	checkCmd.Flags().StringVar(&checkSession, "session", "local", "Session id for the evaluation")
	checkCmd.Flags().StringVar(&checkTarget, "target", "", "Action target")
	checkCmd.Flags().StringArrayVarP(&checkMetadata, "meta", "m", nil, "Metadata key=value (repeatable)")
}

var checkCmd = &cobra.Command{
	Use:   "check <action>",
	Short: "Evaluate one action locally, without a server",
	Long: "Scores a single action against the policy and prints the decision\n" +
		"as JSON. No state is persisted; compound and budget context start\n" +
		"empty.\n\n" +
		"Exit code 0 if the action is auto-approved, 1 if it needs a checkpoint.",
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	pol, hash, err := policy.LoadWithHash(checkPolicy)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	eng := engine.New(engine.Config{
		Policies: policy.NewStore(pol, hash, zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})

	res, err := eng.Evaluate(engine.EvaluateRequest{
		SessionID: checkSession,
		Action:    args[0],
		Target:    checkTarget,
		Metadata:  parseMetadata(checkMetadata),
	})
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))

	if res.NeedsCheckpoint {
		os.Exit(1)
	}
	return nil
}

// parseMetadata turns key=value pairs into typed metadata. Values parse
// as bool or number when they look like one, string otherwise.
func parseMetadata(pairs []string) map[string]model.Value {
	if len(pairs) == 0 {
		return nil
	}
	raw := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, val, found := strings.Cut(pair, "=")
		if !found || key == "" {
			continue
		}
		switch {
		case val == "true":
			raw[key] = true
		case val == "false":
			raw[key] = false
		default:
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				raw[key] = n
			} else {
				raw[key] = val
			}
		}
	}
	return model.FromMap(raw)
}
