package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskgate/riskgate/internal/model"
)

type fakeRecorder struct {
	mu    sync.Mutex
	hooks []model.Webhook
}

func (r *fakeRecorder) UpdateWebhook(w model.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, w)
	return nil
}

func (r *fakeRecorder) last() (model.Webhook, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.hooks) == 0 {
		return model.Webhook{}, false
	}
	return r.hooks[len(r.hooks)-1], true
}

func TestPublishDeliversToSubscribed(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
	}))
	defer srv.Close()

	hooks := []model.Webhook{
		{ID: 1, URL: srv.URL, Events: []string{EventCheckpointTriggered}, Enabled: true},
		{ID: 2, URL: srv.URL, Events: []string{EventNearMissRecorded}, Enabled: true},
		{ID: 3, URL: srv.URL, Events: []string{EventCheckpointTriggered}, Enabled: false},
	}
	d := NewDispatcher(hooks, nil, zerolog.Nop())

	d.Publish(EventCheckpointTriggered, model.ActionRecord{ID: 7, Action: "delete_file"})
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(bodies))
	}

	var env Envelope
	if err := json.Unmarshal(bodies[0], &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != EventCheckpointTriggered {
		t.Errorf("event = %q, want %q", env.Event, EventCheckpointTriggered)
	}
}

func TestSignatureHeader(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-RiskGate-Signature")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	hook := model.Webhook{ID: 1, URL: srv.URL, Events: []string{EventActionApproved}, Secret: "s3cret", Enabled: true}
	d := NewDispatcher([]model.Webhook{hook}, nil, zerolog.Nop())
	d.Publish(EventActionApproved, map[string]any{"id": 1})
	d.Wait()

	if gotSig == "" {
		t.Fatal("expected signature header")
	}
	if !hmac.Equal([]byte(gotSig), []byte(Sign("s3cret", gotBody))) {
		t.Errorf("signature mismatch: %s", gotSig)
	}
}

func TestFailureBookkeeping(t *testing.T) {
	rec := &fakeRecorder{}
	hook := model.Webhook{ID: 5, URL: "http://unused", Events: []string{EventBudgetExceeded}, Enabled: true}
	d := NewDispatcher([]model.Webhook{hook}, rec, zerolog.Nop())
	d.sender = func(model.Webhook, Envelope) error { return errors.New("boom") }

	d.Publish(EventBudgetExceeded, nil)
	d.Wait()

	got, ok := rec.last()
	if !ok {
		t.Fatal("expected bookkeeping update")
	}
	if got.FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", got.FailureCount)
	}
	if got.LastTriggered == nil {
		t.Error("expected last_triggered set")
	}

	// A successful delivery resets the count.
	d.sender = func(model.Webhook, Envelope) error { return nil }
	d.Publish(EventBudgetExceeded, nil)
	d.Wait()

	got, _ = rec.last()
	if got.FailureCount != 0 {
		t.Errorf("failure count after success = %d, want 0", got.FailureCount)
	}
}

func TestAddRemove(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	d := NewDispatcher(nil, nil, zerolog.Nop())
	d.sender = func(model.Webhook, Envelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	d.Publish(EventActionRejected, nil)
	d.Wait()
	if calls != 0 {
		t.Fatalf("expected no deliveries before Add, got %d", calls)
	}

	d.Add(model.Webhook{ID: 1, URL: "http://unused", Events: []string{EventActionRejected}, Enabled: true})
	d.Publish(EventActionRejected, nil)
	d.Wait()
	if calls != 1 {
		t.Fatalf("expected 1 delivery after Add, got %d", calls)
	}

	d.Remove(1)
	d.Publish(EventActionRejected, nil)
	d.Wait()
	if calls != 1 {
		t.Fatalf("expected no delivery after Remove, got %d", calls)
	}
}

func TestSlackFormat(t *testing.T) {
	env := Envelope{
		Event:     EventCheckpointTriggered,
		Timestamp: time.Now().UTC(),
		Data: model.ActionRecord{
			Action: "send_email", Target: "all", SessionID: "s1",
			RiskScore: 0.72, CheckpointReason: "risk score 0.72 exceeds checkpoint trigger 0.60",
		},
	}
	body, err := FormatPayload("slack", env)
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := payload["blocks"]; !ok {
		t.Error("expected blocks in slack payload")
	}
}
