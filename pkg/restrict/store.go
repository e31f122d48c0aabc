package restrict

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"tunnelguard/pkg/log"

	"github.com/fsnotify/fsnotify"
)

// Store publishes the active Set to concurrent evaluations. Reads are
// a single atomic pointer load; a reload builds a brand-new Set and
// swaps it in whole, so every in-flight evaluation sees either the old
// or the new set, never a mix. A failed reload keeps the previous set
// in force.
type Store struct {
	path string
	cur  atomic.Pointer[Set]
}

// NewStore creates a store bound to the restrictions file at path
// without loading it; call Load before serving decisions.
func NewStore(path string) *Store {
	s := &Store{path: path}
	s.cur.Store(&Set{})
	return s
}

// Path returns the restrictions file the store loads from.
func (s *Store) Path() string { return s.path }

// Current returns the active set. Never nil.
func (s *Store) Current() *Set {
	return s.cur.Load()
}

// Replace atomically publishes set as the active one.
func (s *Store) Replace(set *Set) {
	if set == nil {
		set = &Set{}
	}
	s.cur.Store(set)
}

// Load parses the bound file and publishes the result. On error the
// previously active set stays in force.
func (s *Store) Load() error {
	set, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.Replace(set)
	log.Info().Str("file", s.path).Int("rules", len(set.Rules)).Msg("restrictions loaded")
	return nil
}

// Watch re-loads the restrictions file whenever it changes, until ctx
// is done. The containing directory is watched rather than the file
// itself so that editors and config-management tools that replace the
// file (rename over, remove then create) keep triggering reloads.
// Invalid replacement files are logged and ignored; the active set is
// untouched.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("restrict: failed to create watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("restrict: failed to watch %s: %w", dir, err)
	}
	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if err := s.Load(); err != nil {
					log.Error().Err(err).Str("file", s.path).Msg("restrictions reload failed, keeping previous set")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("restrictions watcher error")
			}
		}
	}()
	return nil
}
