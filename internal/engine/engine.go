// Package engine is the risk evaluation core: it turns an incoming
// action description plus session history into a risk score, a
// checkpoint decision, and an updated session budget.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskgate/riskgate/internal/budget"
	"github.com/riskgate/riskgate/internal/compound"
	"github.com/riskgate/riskgate/internal/model"
	"github.com/riskgate/riskgate/internal/nearmiss"
	"github.com/riskgate/riskgate/internal/policy"
	"github.com/riskgate/riskgate/internal/webhook"
)

// Persister writes decisions to durable storage. Failures are reported
// as degraded results, never as decision errors. *store.Store
// satisfies it.
type Persister interface {
	SaveAction(model.ActionRecord) error
	SaveNearMiss(model.NearMissEvent) error
	SaveSession(model.BudgetState) error
}

// Publisher fans out engine events. *webhook.Dispatcher satisfies it.
type Publisher interface {
	Publish(event string, data any)
}

// Config wires the engine's collaborators. Persister and Publisher may
// be nil; Clock defaults to time.Now.
type Config struct {
	Policies  *policy.Store
	Persister Persister
	Publisher Publisher
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// Engine orchestrates scoring, compound detection, near-miss learning
// and budget accounting. All state mutations for one session are
// serialized behind a per-session lock.
type Engine struct {
	policies  *policy.Store
	persister Persister
	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time

	detector *compound.Detector
	learner  *nearmiss.Learner
	budget   *budget.Tracker

	sessions sessionLocks

	mu      sync.Mutex
	actions map[int64]*model.ActionRecord
	order   []int64
	nextID  int64
}

// New constructs an Engine around the given policy store.
func New(cfg Config) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		policies:  cfg.Policies,
		persister: cfg.Persister,
		publisher: cfg.Publisher,
		log:       cfg.Logger,
		now:       now,
		detector:  compound.NewDetector(),
		learner:   nearmiss.NewLearner(),
		budget:    budget.NewTracker(now),
		actions:   make(map[int64]*model.ActionRecord),
	}
}

type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (s *sessionLocks) get(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// EvaluateRequest describes one proposed action.
type EvaluateRequest struct {
	SessionID string
	Action    string
	Target    string
	Metadata  map[string]model.Value
}

// Evaluate scores an action and decides whether it needs a human
// checkpoint. Auto-approved actions commit their score into the
// session budget immediately; checkpointed actions hold it until
// resolved.
func (e *Engine) Evaluate(req EvaluateRequest) (model.EvaluationResult, error) {
	if req.SessionID == "" {
		return model.EvaluationResult{}, fmt.Errorf("%w: session_id required", ErrInvalid)
	}
	if req.Action == "" {
		return model.EvaluationResult{}, fmt.Errorf("%w: action required", ErrInvalid)
	}

	pol := e.policies.Active()
	now := e.now()

	lock := e.sessions.get(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	rule := pol.MatchRule(req.Action)

	impact := impactFor(pol.Defaults, rule, req.Metadata)
	adjustment := e.learner.AdjustmentFor(req.Action, now,
		pol.NearMiss.HalfLife(), pol.NearMiss.MinSeverity, pol.NearMiss.MaxMultiplier)
	impact = clamp01(impact + adjustment)

	breadth := breadthFor(pol.Defaults, req.Target, req.Metadata)
	isCompound, compoundCount := e.detector.RecordAndCheck(
		req.SessionID, req.Target, now, pol.CompoundDetection.Window())
	if isCompound {
		breadth = clamp01(breadth + pol.CompoundDetection.SameResourceBoost)
	}

	probability := probabilityFor(pol.Defaults, rule, req.Metadata)
	score := impact * breadth * probability

	state := e.budget.Get(req.SessionID, pol.RiskThresholds.SessionBudget)
	needs, reason := checkpointDecision(pol, rule, score, state.CumulativeRisk, isCompound, compoundCount)

	if needs && pol.Approval.MaxPendingPerSession > 0 {
		if e.pendingCount(req.SessionID) >= pol.Approval.MaxPendingPerSession {
			return model.EvaluationResult{}, fmt.Errorf(
				"%w: session %s has too many pending approvals", ErrInvalid, req.SessionID)
		}
	}

	rec := model.ActionRecord{
		SessionID:        req.SessionID,
		Action:           req.Action,
		Target:           req.Target,
		Metadata:         req.Metadata,
		Impact:           impact,
		Breadth:          breadth,
		Probability:      probability,
		RiskScore:        score,
		NeedsCheckpoint:  needs,
		CheckpointReason: reason,
		IsCompound:       isCompound,
		CompoundCount:    compoundCount,
		CreatedAt:        now,
	}
	if needs {
		rec.Status = model.StatusPending
	} else {
		rec.Status = model.StatusAutoApproved
		e.budget.Commit(req.SessionID, score, pol.RiskThresholds.SessionBudget)
	}

	e.mu.Lock()
	e.nextID++
	rec.ID = e.nextID
	e.actions[rec.ID] = &rec
	e.order = append(e.order, rec.ID)
	e.mu.Unlock()

	remaining := e.budget.Remaining(req.SessionID, pol.RiskThresholds.SessionBudget)
	degraded := e.persistDecision(rec, req.SessionID, pol.RiskThresholds.SessionBudget)

	e.log.Info().
		Str("session_id", req.SessionID).
		Str("action", req.Action).
		Float64("risk_score", score).
		Bool("needs_checkpoint", needs).
		Int64("action_id", rec.ID).
		Msg("action_evaluated")

	e.publish(webhook.EventActionEvaluated, rec)
	if needs {
		e.publish(webhook.EventCheckpointTriggered, rec)
	}
	if remaining < 0 {
		e.publish(webhook.EventBudgetExceeded, e.budget.Get(req.SessionID, pol.RiskThresholds.SessionBudget))
	}

	return model.EvaluationResult{
		ActionID:         rec.ID,
		SessionID:        req.SessionID,
		RiskScore:        score,
		Impact:           impact,
		Breadth:          breadth,
		Probability:      probability,
		NeedsCheckpoint:  needs,
		CheckpointReason: reason,
		RemainingBudget:  remaining,
		IsCompound:       isCompound,
		CompoundCount:    compoundCount,
		Degraded:         degraded,
	}, nil
}

// checkpointDecision evaluates the trigger conditions in priority
// order: always_checkpoint, score threshold, session budget, compound
// repetition.
func checkpointDecision(pol *policy.Policy, rule *policy.ActionRule, score, cumulative float64, isCompound bool, count int) (bool, string) {
	if rule != nil && rule.AlwaysCheckpoint {
		return true, fmt.Sprintf("rule %q always requires approval", rule.Pattern)
	}
	if score > pol.RiskThresholds.CheckpointTrigger {
		return true, fmt.Sprintf("risk score %.2f exceeds checkpoint trigger %.2f",
			score, pol.RiskThresholds.CheckpointTrigger)
	}
	if cumulative+score > pol.RiskThresholds.SessionBudget {
		return true, fmt.Sprintf("cumulative risk %.2f would exceed session budget %.2f",
			cumulative+score, pol.RiskThresholds.SessionBudget)
	}
	if isCompound && pol.CompoundDetection.RepetitionLimit > 0 && count > pol.CompoundDetection.RepetitionLimit {
		return true, fmt.Sprintf("%d repeated actions against the same target within the detection window", count)
	}
	return false, ""
}

func (e *Engine) pendingCount(sessionID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, rec := range e.actions {
		if rec.SessionID == sessionID && rec.Status == model.StatusPending {
			n++
		}
	}
	return n
}

// Approve resolves a pending action. Approval commits the held risk
// score into the session budget; rejection discards it. A record can
// be resolved exactly once.
func (e *Engine) Approve(actionID int64, approved bool, notes, channel string) (model.ActionRecord, error) {
	e.mu.Lock()
	rec, ok := e.actions[actionID]
	if !ok {
		e.mu.Unlock()
		return model.ActionRecord{}, fmt.Errorf("action %d: %w", actionID, ErrNotFound)
	}
	sessionID := rec.SessionID
	e.mu.Unlock()

	pol := e.policies.Active()
	if pol.Approval.RequireNotes && notes == "" {
		return model.ActionRecord{}, fmt.Errorf("%w: approval notes required by policy", ErrInvalid)
	}

	lock := e.sessions.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if rec.Resolved() {
		status := rec.Status
		e.mu.Unlock()
		return model.ActionRecord{}, &ConflictError{ActionID: actionID, Status: status}
	}
	now := e.now()
	if approved {
		rec.Status = model.StatusApproved
	} else {
		rec.Status = model.StatusRejected
	}
	rec.ApprovalChannel = channel
	rec.ApprovalNotes = notes
	rec.ResolvedAt = &now
	snapshot := *rec
	e.mu.Unlock()

	if approved {
		e.budget.Commit(sessionID, snapshot.RiskScore, pol.RiskThresholds.SessionBudget)
	}
	e.persistDecision(snapshot, sessionID, pol.RiskThresholds.SessionBudget)

	event := webhook.EventActionApproved
	if !approved {
		event = webhook.EventActionRejected
	}
	e.log.Info().
		Int64("action_id", actionID).
		Bool("approved", approved).
		Str("channel", channel).
		Msg("action_resolved")
	e.publish(event, snapshot)

	return snapshot, nil
}

// NearMissRequest reports an incident that almost caused harm.
type NearMissRequest struct {
	SessionID   string
	Pattern     string
	Target      string
	Type        string
	Severity    float64
	Description string
	Metadata    map[string]model.Value
}

// RecordNearMiss validates and appends a near-miss event. The event
// raises future impact scores for the same action pattern until it
// decays.
func (e *Engine) RecordNearMiss(req NearMissRequest) (model.NearMissEvent, error) {
	if req.Pattern == "" {
		return model.NearMissEvent{}, fmt.Errorf("%w: action_pattern required", ErrInvalid)
	}
	typ, err := model.ParseNearMissType(req.Type)
	if err != nil {
		return model.NearMissEvent{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if req.Severity < 0 || req.Severity > 1 {
		return model.NearMissEvent{}, fmt.Errorf("%w: severity %.2f outside [0,1]", ErrInvalid, req.Severity)
	}

	ev := e.learner.Record(model.NearMissEvent{
		SessionID:   req.SessionID,
		Pattern:     req.Pattern,
		Target:      req.Target,
		Type:        typ,
		Severity:    req.Severity,
		Description: req.Description,
		Metadata:    req.Metadata,
		RecordedAt:  e.now(),
	})

	if e.persister != nil {
		if err := e.persister.SaveNearMiss(ev); err != nil {
			e.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("near_miss_persist_deferred")
		}
	}
	e.log.Info().
		Str("pattern", ev.Pattern).
		Str("type", string(ev.Type)).
		Float64("severity", ev.Severity).
		Msg("near_miss_recorded")
	e.publish(webhook.EventNearMissRecorded, ev)

	return ev, nil
}

// Budget returns the session's budget state, creating it lazily.
func (e *Engine) Budget(sessionID string) model.BudgetState {
	pol := e.policies.Active()
	return e.budget.Get(sessionID, pol.RiskThresholds.SessionBudget)
}

// Action returns a single evaluation record by id.
func (e *Engine) Action(actionID int64) (model.ActionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.actions[actionID]
	if !ok {
		return model.ActionRecord{}, fmt.Errorf("action %d: %w", actionID, ErrNotFound)
	}
	return *rec, nil
}

// Pending lists checkpointed actions awaiting resolution, oldest first.
func (e *Engine) Pending() []model.ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.ActionRecord
	for _, id := range e.order {
		if rec := e.actions[id]; rec.Status == model.StatusPending {
			out = append(out, *rec)
		}
	}
	return out
}

// Actions lists evaluation records created within [from, to], oldest
// first. A zero bound is open.
func (e *Engine) Actions(from, to time.Time) []model.ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.ActionRecord
	for _, id := range e.order {
		rec := e.actions[id]
		if !from.IsZero() && rec.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Sessions lists every known session budget state.
func (e *Engine) Sessions() []model.BudgetState {
	return e.budget.Sessions()
}

// Stats summarizes engine activity since start (or restore).
type Stats struct {
	TotalActions     int                        `json:"total_actions"`
	Checkpointed     int                        `json:"checkpointed"`
	Pending          int                        `json:"pending"`
	Approved         int                        `json:"approved"`
	Rejected         int                        `json:"rejected"`
	AutoApproved     int                        `json:"auto_approved"`
	ApprovalRate     float64                    `json:"approval_rate"`
	AverageRiskScore float64                    `json:"average_risk_score"`
	ActiveSessions   int                        `json:"active_sessions"`
	NearMissTotal    int                        `json:"near_miss_total"`
	NearMissByType   map[model.NearMissType]int `json:"near_miss_by_type"`
	PolicyHash       string                     `json:"policy_hash"`
}

// Stats computes current aggregate counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{TotalActions: len(e.order)}
	var scoreSum float64
	for _, id := range e.order {
		rec := e.actions[id]
		scoreSum += rec.RiskScore
		if rec.NeedsCheckpoint {
			s.Checkpointed++
		}
		switch rec.Status {
		case model.StatusPending:
			s.Pending++
		case model.StatusApproved:
			s.Approved++
		case model.StatusRejected:
			s.Rejected++
		case model.StatusAutoApproved:
			s.AutoApproved++
		}
	}
	e.mu.Unlock()

	if resolved := s.Approved + s.Rejected; resolved > 0 {
		s.ApprovalRate = float64(s.Approved) / float64(resolved)
	}
	if s.TotalActions > 0 {
		s.AverageRiskScore = scoreSum / float64(s.TotalActions)
	}
	s.ActiveSessions = len(e.budget.Sessions())
	s.NearMissTotal = e.learner.Len()
	s.NearMissByType = e.learner.CountByType()
	s.PolicyHash = e.policies.Hash()
	return s
}

// Restore hydrates in-memory state from persisted records at startup.
// Pending actions stay pending and can still be resolved.
func (e *Engine) Restore(actions []model.ActionRecord, events []model.NearMissEvent, sessions []model.BudgetState) {
	e.mu.Lock()
	for i := range actions {
		rec := actions[i]
		e.actions[rec.ID] = &rec
		e.order = append(e.order, rec.ID)
		if rec.ID > e.nextID {
			e.nextID = rec.ID
		}
	}
	e.mu.Unlock()

	e.learner.Seed(events)
	for _, s := range sessions {
		e.budget.Restore(s)
	}
	e.log.Info().
		Int("actions", len(actions)).
		Int("near_misses", len(events)).
		Int("sessions", len(sessions)).
		Msg("state_restored")
}

// PruneStale drops compound-detection state whose window has fully
// elapsed. Returns the number of (session, target) keys removed.
func (e *Engine) PruneStale() int {
	pol := e.policies.Active()
	return e.detector.Prune(e.now(), pol.CompoundDetection.Window())
}

// Maintain runs PruneStale on the given interval until ctx is done.
func (e *Engine) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := e.PruneStale(); removed > 0 {
				e.log.Debug().Int("removed", removed).Msg("compound_state_pruned")
			}
		}
	}
}

// persistDecision writes the action record and the session snapshot.
// Returns true when any write was deferred.
func (e *Engine) persistDecision(rec model.ActionRecord, sessionID string, defaultBudget float64) bool {
	if e.persister == nil {
		return false
	}
	degraded := false
	if err := e.persister.SaveAction(rec); err != nil {
		degraded = true
		e.log.Warn().Err(err).Int64("action_id", rec.ID).Msg("action_persist_deferred")
	}
	if err := e.persister.SaveSession(e.budget.Get(sessionID, defaultBudget)); err != nil {
		degraded = true
		e.log.Warn().Err(err).Str("session_id", sessionID).Msg("session_persist_deferred")
	}
	return degraded
}

func (e *Engine) publish(event string, data any) {
	if e.publisher != nil {
		e.publisher.Publish(event, data)
	}
}
