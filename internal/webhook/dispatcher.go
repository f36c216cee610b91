// Package webhook fans out engine events to registered HTTP endpoints.
package webhook

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskgate/riskgate/internal/model"
)

// Event names published by the engine.
const (
	EventActionEvaluated     = "action_evaluated"
	EventCheckpointTriggered = "checkpoint_triggered"
	EventActionApproved      = "action_approved"
	EventActionRejected      = "action_rejected"
	EventNearMissRecorded    = "near_miss_recorded"
	EventBudgetExceeded      = "budget_exceeded"
)

// Envelope is the generic wire format delivered to webhook endpoints.
type Envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Recorder persists delivery bookkeeping (last trigger time, failure
// counts). *store.Store satisfies it.
type Recorder interface {
	UpdateWebhook(model.Webhook) error
}

// Dispatcher fans out events to subscribed webhooks. Delivery is
// asynchronous: Publish never blocks the evaluation path.
type Dispatcher struct {
	mu       sync.RWMutex
	hooks    map[int64]model.Webhook
	recorder Recorder
	sender   sender
	log      zerolog.Logger
	wg       sync.WaitGroup
}

type sender func(hook model.Webhook, env Envelope) error

// NewDispatcher creates a Dispatcher seeded with hooks loaded from the
// store. recorder may be nil (no bookkeeping).
func NewDispatcher(hooks []model.Webhook, recorder Recorder, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		hooks:    make(map[int64]model.Webhook, len(hooks)),
		recorder: recorder,
		sender:   send,
		log:      log,
	}
	for _, h := range hooks {
		d.hooks[h.ID] = h
	}
	return d
}

// Add registers or replaces a webhook in the live set.
func (d *Dispatcher) Add(hook model.Webhook) {
	d.mu.Lock()
	d.hooks[hook.ID] = hook
	d.mu.Unlock()
}

// Remove drops a webhook from the live set.
func (d *Dispatcher) Remove(id int64) {
	d.mu.Lock()
	delete(d.hooks, id)
	d.mu.Unlock()
}

// Publish sends the event to every enabled webhook subscribed to it.
// Fires goroutines and returns immediately.
func (d *Dispatcher) Publish(event string, data any) {
	env := Envelope{Event: event, Timestamp: time.Now().UTC(), Data: data}

	d.mu.RLock()
	var targets []model.Webhook
	for _, h := range d.hooks {
		if h.Enabled && h.SubscribedTo(event) {
			targets = append(targets, h)
		}
	}
	d.mu.RUnlock()

	for _, hook := range targets {
		d.wg.Add(1)
		go func(hook model.Webhook) {
			defer d.wg.Done()
			d.deliver(hook, env)
		}(hook)
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown
// and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(hook model.Webhook, env Envelope) {
	err := d.sender(hook, env)

	d.mu.Lock()
	current, ok := d.hooks[hook.ID]
	if ok {
		now := time.Now().UTC()
		current.LastTriggered = &now
		if err != nil {
			current.FailureCount++
		} else {
			current.FailureCount = 0
		}
		d.hooks[hook.ID] = current
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Warn().
			Err(err).
			Int64("webhook_id", hook.ID).
			Str("event", env.Event).
			Msg("webhook_delivery_failed")
	}
	if ok && d.recorder != nil {
		if uerr := d.recorder.UpdateWebhook(current); uerr != nil {
			d.log.Warn().Err(uerr).Int64("webhook_id", hook.ID).Msg("webhook_bookkeeping_failed")
		}
	}
}
