package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskgate/riskgate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "riskgate.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestActionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec := model.ActionRecord{
		ID:        1,
		SessionID: "s1",
		Action:    "send_email",
		Target:    "user@example.com",
		Metadata:  model.FromMap(map[string]any{"recipients": []any{"a", "b"}}),
		Impact:    0.5, Breadth: 0.4, Probability: 0.3,
		RiskScore:       0.06,
		Status:          model.StatusAutoApproved,
		CompoundCount:   1,
		CreatedAt:       time.Now().UTC(),
		NeedsCheckpoint: false,
	}
	require.NoError(t, s.SaveAction(rec))
	s.Flush()

	got, err := s.LoadActions()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, rec.Action, got[0].Action)
	assert.Equal(t, rec.Status, got[0].Status)
	assert.Equal(t, 2, got[0].Metadata["recipients"].Count())
}

func TestActionResolutionOverwrites(t *testing.T) {
	s := newTestStore(t)

	rec := model.ActionRecord{ID: 1, SessionID: "s1", Action: "delete_file", Status: model.StatusPending, NeedsCheckpoint: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveAction(rec))

	rec.Status = model.StatusApproved
	rec.ApprovalChannel = "rest"
	require.NoError(t, s.SaveAction(rec))
	s.Flush()

	got, err := s.LoadActions()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusApproved, got[0].Status)
	assert.Equal(t, "rest", got[0].ApprovalChannel)
}

func TestNearMissAndSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	ev := model.NearMissEvent{
		ID: 1, SessionID: "s1", Pattern: "send_email",
		Type: model.DataExposure, Severity: 0.7,
		RecordedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveNearMiss(ev))
	require.NoError(t, s.SaveSession(model.BudgetState{
		SessionID: "s1", RiskBudget: 0.8, CumulativeRisk: 0.3,
		CreatedAt: time.Now().UTC(), LastActivity: time.Now().UTC(),
	}))
	s.Flush()

	events, err := s.LoadNearMisses()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.DataExposure, events[0].Type)
	assert.InDelta(t, 0.7, events[0].Severity, 1e-12)

	sessions, err := s.LoadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.InDelta(t, 0.3, sessions[0].CumulativeRisk, 1e-12)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskgate.db")

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.SaveAction(model.ActionRecord{ID: 42, SessionID: "s1", Action: "x", Status: model.StatusPending, CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Close())

	s2, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.LoadActions()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].ID)
}

func TestSaveAfterCloseIsDeferred(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "riskgate.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.SaveAction(model.ActionRecord{ID: 1})
	var deferred *DeferredError
	require.True(t, errors.As(err, &deferred), "want DeferredError, got %v", err)
}

func TestWebhookCRUD(t *testing.T) {
	s := newTestStore(t)

	w := &model.Webhook{
		URL:       "https://hooks.example.com/riskgate",
		Events:    []string{"checkpoint_triggered"},
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AddWebhook(w))
	assert.Equal(t, int64(1), w.ID)

	w2 := &model.Webhook{URL: "https://other.example.com", Events: []string{"near_miss_recorded"}, Enabled: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.AddWebhook(w2))
	assert.Equal(t, int64(2), w2.ID)

	hooks, err := s.Webhooks()
	require.NoError(t, err)
	require.Len(t, hooks, 2)

	w.FailureCount = 3
	require.NoError(t, s.UpdateWebhook(*w))
	hooks, err = s.Webhooks()
	require.NoError(t, err)
	assert.Equal(t, 3, hooks[0].FailureCount)

	require.NoError(t, s.DeleteWebhook(w.ID))
	hooks, err = s.Webhooks()
	require.NoError(t, err)
	require.Len(t, hooks, 1)

	err = s.DeleteWebhook(99)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}
