package policy

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Store publishes the active policy. Readers get an immutable snapshot via
// Active; Reload swaps the snapshot atomically. Readers never block on a
// reload and in-flight evaluations keep the snapshot they started with.
type Store struct {
	active atomic.Pointer[Policy]
	hash   atomic.Pointer[string]
	log    zerolog.Logger
}

// NewStore creates a Store with the given initial policy.
func NewStore(p *Policy, hash string, log zerolog.Logger) *Store {
	s := &Store{log: log}
	s.active.Store(p)
	s.hash.Store(&hash)
	return s
}

// Active returns the current policy snapshot.
func (s *Store) Active() *Policy {
	return s.active.Load()
}

// Hash returns the SHA-256 of the active policy document.
func (s *Store) Hash() string {
	return *s.hash.Load()
}

// Reload parses and validates a policy document, swapping the active
// snapshot only when the document is valid. On failure the previous policy
// stays active and the returned error names the offending fields.
func (s *Store) Reload(data []byte) (*Policy, error) {
	p, err := Parse(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("policy_reload_rejected")
		return nil, err
	}
	hash := hashBytes(data)
	s.active.Store(p)
	s.hash.Store(&hash)
	s.log.Info().
		Str("policy_hash", hash).
		Int("rules", len(p.ActionRules)).
		Msg("policy_reloaded")
	return p, nil
}

// ReloadFile reloads the active policy from a file path.
func (s *Store) ReloadFile(path string) (*Policy, error) {
	p, hash, err := LoadWithHash(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("policy_reload_rejected")
		return nil, err
	}
	s.active.Store(p)
	s.hash.Store(&hash)
	s.log.Info().
		Str("policy_hash", hash).
		Str("path", path).
		Int("rules", len(p.ActionRules)).
		Msg("policy_reloaded")
	return p, nil
}
