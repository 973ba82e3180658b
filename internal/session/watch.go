package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchTokenFile watches the token file at path and ends the live session
// when another process removes it (e.g. `tenantcal logout` in a second
// terminal). It blocks until ctx is canceled. The parent directory is
// watched because the file itself is replaced by rename on every save.
func (m *Manager) WatchTokenFile(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: creating token directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("session: watching %s: %w", dir, err)
	}

	m.logger.Debug("watching token file", slog.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path {
				continue
			}

			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				m.onTokenFileRemoved()
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			m.logger.Warn("token file watcher error", slog.String("error", werr.Error()))
		}
	}
}

// onTokenFileRemoved ends the live session if its token is no longer on
// disk. Removals performed by the manager itself happen after it has left
// LoggedIn, so they are no-ops here.
func (m *Manager) onTokenFileRemoved() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != LoggedIn || m.session == nil {
		return
	}

	rec, err := m.store.Load()
	if err == nil && rec != nil && rec.Token == m.session.Token {
		// Replaced with the same token; nothing changed.
		return
	}

	m.invalidate(Unauthorized, ReasonTokenRemoved)
}
