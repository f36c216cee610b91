// Package nearmiss maintains the decaying risk-adjustment state learned
// from recorded near-miss events. An event raises the perceived impact of
// its action pattern immediately after it occurs and fades smoothly on a
// half-life curve, never with a hard cutoff.
package nearmiss

import (
	"math"
	"sync"
	"time"

	"github.com/riskgate/riskgate/internal/model"
)

// Learner holds the append-only near-miss log. Events are immutable once
// recorded; adjustment lookups only read.
type Learner struct {
	mu     sync.RWMutex
	events []model.NearMissEvent
	nextID int64
}

// NewLearner creates an empty Learner.
func NewLearner() *Learner {
	return &Learner{nextID: 1}
}

// Record appends an event and returns it with its assigned ID. Type and
// severity validation happens at the API boundary, not here.
func (l *Learner) Record(ev model.NearMissEvent) model.NearMissEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.ID = l.nextID
	l.nextID++
	l.events = append(l.events, ev)
	return ev
}

// Seed restores events loaded from durable storage. Called once at startup
// before any Record.
func (l *Learner) Seed(events []model.NearMissEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, events...)
	for _, ev := range events {
		if ev.ID >= l.nextID {
			l.nextID = ev.ID + 1
		}
	}
}

// AdjustmentFor sums the decayed severity of every event whose pattern
// exactly matches the action name:
//
//	contribution = severity * 2^(-age/halfLife)
//
// An event at age zero contributes its full severity; at one half-life,
// half of it. Events below minSeverity are ignored, and the total is
// clamped to [0, maxAdjustment].
func (l *Learner) AdjustmentFor(pattern string, now time.Time, halfLife time.Duration, minSeverity, maxAdjustment float64) float64 {
	if halfLife <= 0 || maxAdjustment <= 0 {
		return 0
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0.0
	for _, ev := range l.events {
		if ev.Pattern != pattern {
			continue
		}
		if ev.Severity < minSeverity {
			continue
		}
		age := now.Sub(ev.RecordedAt)
		if age < 0 {
			age = 0
		}
		decay := math.Exp2(-age.Seconds() / halfLife.Seconds())
		total += ev.Severity * decay
	}

	if total > maxAdjustment {
		return maxAdjustment
	}
	return total
}

// Events returns a copy of the log, newest last.
func (l *Learner) Events() []model.NearMissEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.NearMissEvent, len(l.events))
	copy(out, l.events)
	return out
}

// CountByType tallies recorded events per near-miss type. Every type
// appears in the result, zero or not.
func (l *Learner) CountByType() map[model.NearMissType]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[model.NearMissType]int, len(model.NearMissTypes))
	for _, t := range model.NearMissTypes {
		counts[t] = 0
	}
	for _, ev := range l.events {
		counts[ev.Type]++
	}
	return counts
}

// Len returns the number of recorded events.
func (l *Learner) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
