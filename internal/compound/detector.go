// Package compound flags repeated actions against the same target inside a
// sliding time window. Hitting one resource over and over is riskier than
// the individual actions suggest, so the engine widens breadth when the
// detector reports clustering.
package compound

import (
	"sync"
	"time"
)

type key struct {
	sessionID string
	target    string
}

// Detector tracks recent action timestamps per (session, target). Entries
// are pruned lazily on each lookup; a key whose window fully elapses with
// no new activity starts over at count 1.
type Detector struct {
	mu      sync.Mutex
	entries map[key][]time.Time
}

// NewDetector creates an empty Detector.
func NewDetector() *Detector {
	return &Detector{entries: make(map[key][]time.Time)}
}

// RecordAndCheck prunes timestamps older than window, appends now, and
// reports whether the action compounds: is_compound when more than one
// action hit this exact target inside the window, and the count including
// this action. Targets are compared by exact string equality; an empty
// target never compounds and is not recorded.
func (d *Detector) RecordAndCheck(sessionID, target string, now time.Time, window time.Duration) (bool, int) {
	if target == "" {
		return false, 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{sessionID: sessionID, target: target}
	cutoff := now.Add(-window)

	recent := d.entries[k]
	kept := recent[:0]
	for _, ts := range recent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	d.entries[k] = kept

	count := len(kept)
	return count > 1, count
}

// Prune drops every key whose newest timestamp is older than window. Called
// periodically by the owner to keep idle sessions from pinning memory.
func (d *Detector) Prune(now time.Time, window time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-window)
	removed := 0
	for k, times := range d.entries {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(d.entries, k)
			removed++
		}
	}
	return removed
}
