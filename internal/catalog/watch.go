package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-syncs path whenever it changes until ctx is cancelled. The
// parent directory is watched so that editors which replace the file on
// save are noticed. Bursts of events are coalesced over debounce.
func (s *Syncer) Watch(ctx context.Context, path string, debounce time.Duration) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	log := s.Log.With().Str("catalog", abs).Logger()
	log.Info().Msg("watching catalog")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("catalog watcher error")
		case <-pending:
			pending = nil
			if _, err := s.SyncFile(ctx, abs); err != nil {
				log.Error().Err(err).Msg("catalog reload failed")
			}
		}
	}
}
