package policy

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Default(), hashBytes(nil), zerolog.Nop())
}

func TestReloadSwapsSnapshot(t *testing.T) {
	s := newTestStore(t)
	before := s.Active()

	doc := `
risk_thresholds:
  checkpoint_trigger: 0.3
`
	p, err := s.Reload([]byte(doc))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.RiskThresholds.CheckpointTrigger != 0.3 {
		t.Errorf("checkpoint_trigger = %g, want 0.3", p.RiskThresholds.CheckpointTrigger)
	}
	if s.Active() == before {
		t.Error("Active should return the new snapshot")
	}
	// The old snapshot is unchanged for in-flight readers.
	if before.RiskThresholds.CheckpointTrigger != 0.6 {
		t.Error("previous snapshot was mutated")
	}
}

func TestReloadInvalidKeepsPrevious(t *testing.T) {
	s := newTestStore(t)
	before := s.Active()
	beforeHash := s.Hash()

	doc := `
risk_thresholds:
  checkpoint_trigger: 1.5
`
	if _, err := s.Reload([]byte(doc)); err == nil {
		t.Fatal("expected validation error")
	}
	if s.Active() != before {
		t.Error("invalid reload must leave the previous policy active")
	}
	if s.Hash() != beforeHash {
		t.Error("invalid reload must leave the previous hash")
	}
}

func TestConcurrentReadersDuringReload(t *testing.T) {
	s := newTestStore(t)
	doc := []byte("risk_thresholds:\n  checkpoint_trigger: 0.4\n")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				p := s.Active()
				// A reader must always see a fully-formed policy.
				trig := p.RiskThresholds.CheckpointTrigger
				if trig != 0.6 && trig != 0.4 {
					t.Errorf("torn read: checkpoint_trigger = %g", trig)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if _, err := s.Reload(doc); err != nil {
			t.Errorf("reload: %v", err)
		}
	}
	wg.Wait()
}
