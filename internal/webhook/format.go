package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/riskgate/riskgate/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, env Envelope) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(env)
	default:
		return json.Marshal(env)
	}
}

func formatSlack(env Envelope) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Event:* %s", env.Event)},
	}

	if rec, ok := env.Data.(model.ActionRecord); ok {
		fields = append(fields,
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", rec.Action)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Target:* %s", rec.Target)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Session:* %s", rec.SessionID)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Risk:* %.2f", rec.RiskScore)},
		)
		if rec.CheckpointReason != "" {
			fields = append(fields,
				map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", rec.CheckpointReason)})
		}
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("riskgate: %s", env.Event),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}
