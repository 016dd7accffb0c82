// Package hotreload keeps resolved settings live. A fsnotify watcher
// observes the configuration file, a coordinator debounces events,
// re-reads the file and diffs the settings namespace, and a broadcaster
// delivers one change per key to registered listeners.
package hotreload

import (
	"context"
	"log/slog"
	"time"

	"github.com/occkit/occkit/internal/settings"
)

// Manager wires the watcher, coordinator and broadcaster together.
type Manager struct {
	watcher     *Watcher
	coordinator *Coordinator
	broadcaster *Broadcaster
	started     bool
}

// NewManager creates a hot reload manager. reload re-reads the
// configuration source; initial seeds the diff baseline with the values
// resolved at startup.
func NewManager(reload ReloadFunc, initial map[string]any) (*Manager, error) {
	watcher, err := NewWatcher()
	if err != nil {
		return nil, err
	}

	broadcaster := NewBroadcaster()
	coordinator := NewCoordinator(watcher, broadcaster, reload, initial)

	return &Manager{
		watcher:     watcher,
		coordinator: coordinator,
		broadcaster: broadcaster,
	}, nil
}

// AddWatch adds a file or directory to watch.
func (m *Manager) AddWatch(path string) error {
	return m.watcher.Add(path)
}

// RemoveWatch removes a file or directory from watch.
func (m *Manager) RemoveWatch(path string) error {
	return m.watcher.Remove(path)
}

// AddListener adds a setting change listener.
func (m *Manager) AddListener(name string, listener Listener) error {
	return m.broadcaster.AddListener(name, listener)
}

// RemoveListener removes a setting change listener.
func (m *Manager) RemoveListener(name string) {
	m.broadcaster.RemoveListener(name)
}

// Publish delivers a change directly to all listeners, bypassing the
// file watcher. Load-time announcements go through here.
func (m *Manager) Publish(ctx context.Context, change settings.Change) error {
	return m.broadcaster.Broadcast(ctx, change)
}

// ReloadNow forces a synchronous reload and broadcast.
func (m *Manager) ReloadNow(ctx context.Context) error {
	return m.coordinator.ReloadNow(ctx)
}

// Start starts the hot reload system.
func (m *Manager) Start() error {
	if m.started {
		return nil
	}

	if err := m.coordinator.Start(); err != nil {
		return err
	}

	m.started = true
	slog.Info("Hot reload system started")
	return nil
}

// Stop stops the hot reload system.
func (m *Manager) Stop() {
	if !m.started {
		return
	}

	m.coordinator.Stop()
	m.broadcaster.Close()
	m.started = false
	slog.Info("Hot reload system stopped")
}

// SetDebounceTime sets the debounce time for reload events.
func (m *Manager) SetDebounceTime(d time.Duration) {
	m.coordinator.SetDebounceTime(d)
}

// IsRunning returns whether the hot reload system is running.
func (m *Manager) IsRunning() bool {
	return m.started
}

// Shutdown gracefully shuts down the hot reload system.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop()
	return nil
}
