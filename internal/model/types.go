package model

import (
	"fmt"
	"time"
)

// ApprovalStatus is the resolution state of an evaluated action.
type ApprovalStatus string

const (
	// StatusPending means the action hit a checkpoint and awaits a human.
	StatusPending ApprovalStatus = "pending"
	// StatusApproved means a human released the checkpointed action.
	StatusApproved ApprovalStatus = "approved"
	// StatusRejected means a human declined the checkpointed action.
	StatusRejected ApprovalStatus = "rejected"
	// StatusAutoApproved means the action passed evaluation without a checkpoint.
	StatusAutoApproved ApprovalStatus = "auto_approved"
)

// NearMissType classifies a recorded near-miss event. The set is closed;
// unrecognized types are rejected at the API boundary.
type NearMissType string

const (
	BoundaryViolation    NearMissType = "boundary_violation"
	ResourceOveruse      NearMissType = "resource_overuse"
	TimingAnomaly        NearMissType = "timing_anomaly"
	PermissionEscalation NearMissType = "permission_escalation"
	DataExposure         NearMissType = "data_exposure"
	CascadeTrigger       NearMissType = "cascade_trigger"
	PolicyDrift          NearMissType = "policy_drift"
)

// NearMissTypes lists every valid near-miss type in declaration order.
var NearMissTypes = []NearMissType{
	BoundaryViolation,
	ResourceOveruse,
	TimingAnomaly,
	PermissionEscalation,
	DataExposure,
	CascadeTrigger,
	PolicyDrift,
}

// ParseNearMissType validates a raw type string against the closed set.
func ParseNearMissType(s string) (NearMissType, error) {
	for _, t := range NearMissTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown near-miss type %q", s)
}

// ActionRecord is one evaluated action. Once a checkpointed record leaves
// StatusPending it is immutable; there is no transition out of a resolved
// state.
type ActionRecord struct {
	ID        int64            `json:"id"`
	SessionID string           `json:"session_id"`
	Action    string           `json:"action"`
	Target    string           `json:"target,omitempty"`
	Metadata  map[string]Value `json:"metadata,omitempty"`

	Impact      float64 `json:"impact"`
	Breadth     float64 `json:"breadth"`
	Probability float64 `json:"probability"`
	RiskScore   float64 `json:"risk_score"`

	NeedsCheckpoint  bool   `json:"needs_checkpoint"`
	CheckpointReason string `json:"checkpoint_reason,omitempty"`

	Status          ApprovalStatus `json:"status"`
	ApprovalChannel string         `json:"approval_channel,omitempty"`
	ApprovalNotes   string         `json:"approval_notes,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`

	IsCompound    bool `json:"is_compound"`
	CompoundCount int  `json:"compound_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Resolved reports whether the record has left the pending state.
func (r *ActionRecord) Resolved() bool {
	return r.Status != StatusPending
}

// NearMissEvent is an immutable append-only learning record. Pattern is the
// action name the event applies to; adjustment lookups match it exactly.
type NearMissEvent struct {
	ID           int64            `json:"id"`
	SessionID    string           `json:"session_id"`
	Pattern      string           `json:"pattern"`
	Target       string           `json:"target,omitempty"`
	Type         NearMissType     `json:"type"`
	Severity     float64          `json:"severity"`
	Description  string           `json:"description,omitempty"`
	Metadata     map[string]Value `json:"metadata,omitempty"`
	OriginalRisk float64          `json:"original_risk,omitempty"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

// EvaluationResult is the engine's answer for one action.
type EvaluationResult struct {
	ActionID         int64   `json:"action_id"`
	SessionID        string  `json:"session_id"`
	RiskScore        float64 `json:"risk_score"`
	Impact           float64 `json:"impact"`
	Breadth          float64 `json:"breadth"`
	Probability      float64 `json:"probability"`
	NeedsCheckpoint  bool    `json:"needs_checkpoint"`
	CheckpointReason string  `json:"checkpoint_reason,omitempty"`
	RemainingBudget  float64 `json:"remaining_budget"`
	IsCompound       bool    `json:"is_compound"`
	CompoundCount    int     `json:"compound_count"`

	// Degraded marks a decision whose durable write was deferred. The
	// decision itself stands.
	Degraded bool `json:"degraded,omitempty"`
}

// BudgetState is the cumulative-risk accounting for one session.
type BudgetState struct {
	SessionID          string    `json:"session_id"`
	RiskBudget         float64   `json:"risk_budget"`
	CumulativeRisk     float64   `json:"cumulative_risk"`
	RemainingBudget    float64   `json:"remaining_budget"`
	UtilizationPercent float64   `json:"utilization_percent"`
	CreatedAt          time.Time `json:"created_at"`
	LastActivity       time.Time `json:"last_activity"`
}

// Webhook is a registered event-notification destination.
type Webhook struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	Format        string     `json:"format,omitempty"` // "generic" (default) or "slack"
	Secret        string     `json:"secret,omitempty"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	FailureCount  int        `json:"failure_count"`
}

// SubscribedTo reports whether the webhook wants the given event.
func (w *Webhook) SubscribedTo(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}
