package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Reloader watches the policy file and hot-swaps the active policy on
// change. Invalid documents are rejected; the previous policy stays
// active.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	log     zerolog.Logger
}

// NewReloader creates a file watcher for the policy path. A missing
// file is skipped rather than failing startup.
func NewReloader(server *Server, path string, log zerolog.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := watcher.Add(path); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("watch %q: %w", path, err)
			}
		}
	}

	return &Reloader{watcher: watcher, server: server, log: log}, nil
}

// Run watches for file changes and reloads policy. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Editors fire several write events per save; wait 500ms after the
	// last one before reloading.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.server.ReloadPolicy(); err != nil {
						r.log.Warn().Err(err).Msg("policy_hot_reload_rejected")
					} else {
						r.log.Info().Str("policy_hash", r.server.policies.Hash()).Msg("policy_hot_reloaded")
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("policy_watcher_error")
		}
	}
}
