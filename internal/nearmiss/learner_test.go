package nearmiss

import (
	"math"
	"testing"
	"time"

	"github.com/riskgate/riskgate/internal/model"
)

var t0 = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

const (
	halfLife = 24 * time.Hour
	minSev   = 0.1
	maxAdj   = 2.0
)

func record(l *Learner, pattern string, severity float64, at time.Time) {
	l.Record(model.NearMissEvent{
		Pattern:    pattern,
		Type:       model.BoundaryViolation,
		Severity:   severity,
		RecordedAt: at,
	})
}

func TestAdjustmentAtExactHalfLife(t *testing.T) {
	l := NewLearner()
	record(l, "send_email", 0.7, t0)

	got := l.AdjustmentFor("send_email", t0.Add(halfLife), halfLife, minSev, maxAdj)
	if math.Abs(got-0.35) > 1e-9 {
		t.Errorf("adjustment at one half-life = %g, want 0.35", got)
	}
}

func TestAdjustmentAtAgeZero(t *testing.T) {
	l := NewLearner()
	record(l, "send_email", 0.7, t0)

	got := l.AdjustmentFor("send_email", t0, halfLife, minSev, maxAdj)
	if math.Abs(got-0.7) > 1e-9 {
		t.Errorf("adjustment at age zero = %g, want full severity 0.7", got)
	}
}

func TestAdjustmentMonotonicInAge(t *testing.T) {
	l := NewLearner()
	record(l, "send_email", 0.9, t0)

	prev := math.Inf(1)
	for _, age := range []time.Duration{0, time.Hour, 12 * time.Hour, 24 * time.Hour, 72 * time.Hour, 30 * 24 * time.Hour} {
		got := l.AdjustmentFor("send_email", t0.Add(age), halfLife, minSev, maxAdj)
		if got > prev {
			t.Errorf("adjustment increased with age: %g at %v > %g", got, age, prev)
		}
		prev = got
	}
	// Continuous decay: strictly between half-life multiples, not stepped.
	atSix := l.AdjustmentFor("send_email", t0.Add(6*time.Hour), halfLife, minSev, maxAdj)
	if atSix >= 0.9 || atSix <= 0.45 {
		t.Errorf("adjustment at 6h = %g, want strictly between 0.45 and 0.9", atSix)
	}
}

func TestAdjustmentClampedByMax(t *testing.T) {
	l := NewLearner()
	for i := 0; i < 20; i++ {
		record(l, "send_email", 1.0, t0)
	}

	got := l.AdjustmentFor("send_email", t0, halfLife, minSev, maxAdj)
	if got != maxAdj {
		t.Errorf("adjustment = %g, want clamp at %g", got, maxAdj)
	}

	// Saturation is idempotent: more events do not push past the cap.
	record(l, "send_email", 1.0, t0)
	if again := l.AdjustmentFor("send_email", t0, halfLife, minSev, maxAdj); again != maxAdj {
		t.Errorf("adjustment after extra event = %g, want %g", again, maxAdj)
	}
}

func TestExactPatternMatchOnly(t *testing.T) {
	l := NewLearner()
	record(l, "send_email", 0.8, t0)

	if got := l.AdjustmentFor("send_mail", t0, halfLife, minSev, maxAdj); got != 0 {
		t.Errorf("different pattern should contribute nothing, got %g", got)
	}
	if got := l.AdjustmentFor("send_email_bulk", t0, halfLife, minSev, maxAdj); got != 0 {
		t.Errorf("prefix overlap should contribute nothing, got %g", got)
	}
}

func TestMinSeverityFloor(t *testing.T) {
	l := NewLearner()
	record(l, "send_email", 0.05, t0)

	if got := l.AdjustmentFor("send_email", t0, halfLife, minSev, maxAdj); got != 0 {
		t.Errorf("below-floor severity should be ignored, got %g", got)
	}
}

func TestMultipleEventsSum(t *testing.T) {
	l := NewLearner()
	record(l, "send_email", 0.4, t0)
	record(l, "send_email", 0.6, t0.Add(-halfLife)) // one half-life old at t0

	got := l.AdjustmentFor("send_email", t0, halfLife, minSev, maxAdj)
	want := 0.4 + 0.3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("adjustment = %g, want %g", got, want)
	}
}

func TestSeedRestoresIDs(t *testing.T) {
	l := NewLearner()
	l.Seed([]model.NearMissEvent{
		{ID: 7, Pattern: "x", Type: model.DataExposure, Severity: 0.5, RecordedAt: t0},
	})

	ev := l.Record(model.NearMissEvent{Pattern: "y", Type: model.PolicyDrift, Severity: 0.5, RecordedAt: t0})
	if ev.ID != 8 {
		t.Errorf("next ID after seed = %d, want 8", ev.ID)
	}
	if l.Len() != 2 {
		t.Errorf("len = %d, want 2", l.Len())
	}
}

func TestCountByType(t *testing.T) {
	l := NewLearner()
	record(l, "a", 0.5, t0)
	l.Record(model.NearMissEvent{Pattern: "b", Type: model.DataExposure, Severity: 0.5, RecordedAt: t0})
	l.Record(model.NearMissEvent{Pattern: "c", Type: model.DataExposure, Severity: 0.5, RecordedAt: t0})

	counts := l.CountByType()
	if counts[model.BoundaryViolation] != 1 {
		t.Errorf("boundary_violation = %d, want 1", counts[model.BoundaryViolation])
	}
	if counts[model.DataExposure] != 2 {
		t.Errorf("data_exposure = %d, want 2", counts[model.DataExposure])
	}
	if counts[model.CascadeTrigger] != 0 {
		t.Errorf("cascade_trigger = %d, want 0", counts[model.CascadeTrigger])
	}
	if len(counts) != len(model.NearMissTypes) {
		t.Errorf("every type should be present, got %d", len(counts))
	}
}
