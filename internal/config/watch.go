package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file changes on disk and calls
// onChange with the new config. Writes made through this manager do not
// trigger onChange. Watching stops when ctx ends.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Editors replace files by rename, so watch the directory
	if err := watcher.Add(m.GetConfigDir()); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", m.GetConfigDir(), err)
	}

	log := logger.WithComponent("config")
	target := filepath.Clean(m.configPath)

	go func() {
		defer watcher.Close()
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
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				changed, err := m.Reload()
				if err != nil {
					log.Warn().Err(err).Msg("Ignoring config change")
					continue
				}
				if !changed {
					continue
				}
				log.Info().Str("path", m.configPath).Msg("Config reloaded")
				onChange(m.Get())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()

	return nil
}
