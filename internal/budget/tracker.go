// Package budget accounts cumulative risk per session. It never rejects a
// commit — budget overage is a signal the engine turns into a checkpoint,
// not a hard cap enforced here.
package budget

import (
	"sync"
	"time"

	"github.com/riskgate/riskgate/internal/model"
)

type session struct {
	riskBudget     float64
	cumulativeRisk float64
	createdAt      time.Time
	lastActivity   time.Time
}

// Tracker holds per-session budget state. Sessions are created lazily on
// first access and live for the Tracker's lifetime. All methods serialize
// per call; callers needing a larger read-modify-write critical section
// (the engine's evaluate path) hold their own per-session lock around it.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// NewTracker creates a Tracker using the given clock.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		sessions: make(map[string]*session),
		now:      now,
	}
}

// lookup returns the session, creating it with defaultBudget on first use.
// Caller holds t.mu.
func (t *Tracker) lookup(sessionID string, defaultBudget float64) *session {
	s, ok := t.sessions[sessionID]
	if !ok {
		now := t.now()
		s = &session{
			riskBudget:   defaultBudget,
			createdAt:    now,
			lastActivity: now,
		}
		t.sessions[sessionID] = s
	}
	return s
}

// Get returns the session's budget state, creating the session if needed.
func (t *Tracker) Get(sessionID string, defaultBudget float64) model.BudgetState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(sessionID, defaultBudget)
	return snapshot(sessionID, s)
}

// Commit adds amount to the session's cumulative risk and returns the new
// cumulative total. Commits never fail and never decrease the total.
func (t *Tracker) Commit(sessionID string, amount, defaultBudget float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(sessionID, defaultBudget)
	s.cumulativeRisk += amount
	s.lastActivity = t.now()
	return s.cumulativeRisk
}

// Remaining returns riskBudget - cumulativeRisk. May be negative; the
// engine decides what that means.
func (t *Tracker) Remaining(sessionID string, defaultBudget float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(sessionID, defaultBudget)
	return s.riskBudget - s.cumulativeRisk
}

// Sessions returns the state of every known session.
func (t *Tracker) Sessions() []model.BudgetState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.BudgetState, 0, len(t.sessions))
	for id, s := range t.sessions {
		out = append(out, snapshot(id, s))
	}
	return out
}

// Restore seeds a session from durable storage, overwriting any
// lazily-created state. Called once at startup.
func (t *Tracker) Restore(state model.BudgetState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[state.SessionID] = &session{
		riskBudget:     state.RiskBudget,
		cumulativeRisk: state.CumulativeRisk,
		createdAt:      state.CreatedAt,
		lastActivity:   state.LastActivity,
	}
}

func snapshot(sessionID string, s *session) model.BudgetState {
	utilization := 0.0
	if s.riskBudget > 0 {
		utilization = s.cumulativeRisk / s.riskBudget * 100
	}
	return model.BudgetState{
		SessionID:          sessionID,
		RiskBudget:         s.riskBudget,
		CumulativeRisk:     s.cumulativeRisk,
		RemainingBudget:    s.riskBudget - s.cumulativeRisk,
		UtilizationPercent: utilization,
		CreatedAt:          s.createdAt,
		LastActivity:       s.lastActivity,
	}
}
