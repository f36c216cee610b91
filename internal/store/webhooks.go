package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/riskgate/riskgate/internal/model"
)

// ErrWebhookNotFound is returned for operations on an unknown webhook ID.
var ErrWebhookNotFound = fmt.Errorf("webhook not found")

// AddWebhook stores a new webhook registration, assigning its ID.
// Registrations are management-plane writes, so they are synchronous.
func (s *Store) AddWebhook(w *model.Webhook) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWebhooks)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		w.ID = int64(seq)
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put(itob(w.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store: add webhook: %w", err)
	}
	return nil
}

// UpdateWebhook rewrites an existing registration (delivery bookkeeping:
// failure count, last triggered).
func (s *Store) UpdateWebhook(w model.Webhook) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWebhooks)
		if b.Get(itob(w.ID)) == nil {
			return ErrWebhookNotFound
		}
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put(itob(w.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store: update webhook %d: %w", w.ID, err)
	}
	return nil
}

// DeleteWebhook removes a registration.
func (s *Store) DeleteWebhook(id int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWebhooks)
		if b.Get(itob(id)) == nil {
			return ErrWebhookNotFound
		}
		return b.Delete(itob(id))
	})
	if err != nil {
		return fmt.Errorf("store: delete webhook %d: %w", id, err)
	}
	return nil
}

// Webhooks returns every registration ordered by ID.
func (s *Store) Webhooks() ([]model.Webhook, error) {
	var out []model.Webhook
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWebhooks).ForEach(func(k, v []byte) error {
			var w model.Webhook
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("decode webhook %d: %w", btoi(k), err)
			}
			out = append(out, w)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list webhooks: %w", err)
	}
	return out, nil
}
