package slot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Signal is a broadcast notification. Waiters select on C(); Notify wakes
// all of them by closing the channel and installing a fresh one.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

// Watch calls onChange every time any process replaces the slot file, until
// ctx is done. Delivery is best effort: bursts of writes may collapse into
// fewer calls. The slot directory is created if it does not exist yet.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("slot: create directory %s: %w", s.dir, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("slot: create watcher: %w", err)
	}
	// Watch the directory: the slot is replaced by rename, which a watch on
	// the file itself would lose.
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("slot: watch %q: %w", s.dir, err)
	}
	defer w.Close() // nolint: errcheck

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != FileName {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				s.logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("Background slot changed")
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Background slot watcher error")
		}
	}
}
