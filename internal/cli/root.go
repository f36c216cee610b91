// Package cli implements the riskgate command tree.
package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/riskgate/riskgate/sdk/go/riskgate"
)

var (
	serverURL string
	apiKey    string
)

var rootCmd = &cobra.Command{
	Use:   "riskgate",
	Short: "Risk evaluation gateway for AI agent actions",
	Long: "Scores agent actions on impact, breadth, and probability, and gates\n" +
		"high-risk ones behind human approval. Tracks per-session risk budgets,\n" +
		"compound same-target activity, and near-miss learning.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; flags win over environment.
		_ = godotenv.Load()
		if serverURL == "" {
			serverURL = os.Getenv("RISKGATE_SERVER")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if apiKey == "" {
			apiKey = os.Getenv("RISKGATE_API_KEY")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "riskgate server URL (default $RISKGATE_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $RISKGATE_API_KEY)")
}

// newClient builds an SDK client from the persistent flags.
func newClient(sessionID string) *riskgate.Client {
	opts := []riskgate.Option{riskgate.WithBaseURL(serverURL)}
	if apiKey != "" {
		opts = append(opts, riskgate.WithAPIKey(apiKey))
	}
	if sessionID != "" {
		opts = append(opts, riskgate.WithSession(sessionID))
	}
	return riskgate.New(opts...)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
