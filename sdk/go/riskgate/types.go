package riskgate

import (
	"fmt"
	"time"
)

// Action describes what an agent tool intends to do.
type Action struct {
	Name     string         // action name, matched against policy rules
	Target   string         // resource the action touches
	Metadata map[string]any // optional scoring signals (recipients, amount, scope, ...)
}

// EvaluationResult is the engine's decision for one action.
type EvaluationResult struct {
	ActionID         int64   `json:"action_id"`
	SessionID        string  `json:"session_id"`
	RiskScore        float64 `json:"risk_score"`
	Impact           float64 `json:"impact"`
	Breadth          float64 `json:"breadth"`
	Probability      float64 `json:"probability"`
	NeedsCheckpoint  bool    `json:"needs_checkpoint"`
	CheckpointReason string  `json:"checkpoint_reason"`
	RemainingBudget  float64 `json:"remaining_budget"`
	IsCompound       bool    `json:"is_compound"`
	CompoundCount    int     `json:"compound_count"`
	Degraded         bool    `json:"degraded"`
}

// ActionRecord is a persisted evaluation with its resolution state.
type ActionRecord struct {
	ID               int64      `json:"id"`
	SessionID        string     `json:"session_id"`
	Action           string     `json:"action"`
	Target           string     `json:"target"`
	RiskScore        float64    `json:"risk_score"`
	NeedsCheckpoint  bool       `json:"needs_checkpoint"`
	CheckpointReason string     `json:"checkpoint_reason"`
	Status           string     `json:"status"`
	ApprovalNotes    string     `json:"approval_notes"`
	ResolvedAt       *time.Time `json:"resolved_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Resolution states of an ActionRecord.
const (
	StatusPending      = "pending"
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
	StatusAutoApproved = "auto_approved"
)

// BudgetState is the session's cumulative-risk accounting.
type BudgetState struct {
	SessionID          string  `json:"session_id"`
	RiskBudget         float64 `json:"risk_budget"`
	CumulativeRisk     float64 `json:"cumulative_risk"`
	RemainingBudget    float64 `json:"remaining_budget"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// NearMissEvent acknowledges a recorded near-miss.
type NearMissEvent struct {
	ID         int64     `json:"id"`
	Pattern    string    `json:"pattern"`
	Type       string    `json:"type"`
	Severity   float64   `json:"severity"`
	RecordedAt time.Time `json:"recorded_at"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("riskgate: HTTP %d: %s", e.Status, e.Message)
}

// CheckpointError is returned when an action needs human approval
// before it may run. ActionID identifies the pending record.
type CheckpointError struct {
	ActionID  int64
	Reason    string
	RiskScore float64
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("riskgate checkpoint (action %d, risk %.2f): %s", e.ActionID, e.RiskScore, e.Reason)
}

// BlockedError is returned when a human rejected the action.
type BlockedError struct {
	ActionID int64
	Notes    string
}

func (e *BlockedError) Error() string {
	if e.Notes != "" {
		return fmt.Sprintf("riskgate rejected action %d: %s", e.ActionID, e.Notes)
	}
	return fmt.Sprintf("riskgate rejected action %d", e.ActionID)
}
