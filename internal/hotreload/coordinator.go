package hotreload

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/occkit/occkit/internal/settings"
)

// ReloadFunc re-reads the configuration source and returns the current
// prefixed setting values (full key -> value).
type ReloadFunc func() (map[string]any, error)

// Coordinator turns debounced file events into per-key setting changes.
// On every reload it diffs the fresh values against the last good
// snapshot and broadcasts one change per differing key; a failed reload
// keeps the previous snapshot live.
type Coordinator struct {
	watcher      *Watcher
	broadcaster  *Broadcaster
	reload       ReloadFunc
	snapshot     map[string]any
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.Mutex
	debounceTime time.Duration
	wg           sync.WaitGroup
	isRunning    bool
}

// NewCoordinator creates a coordinator seeded with the values resolved at
// startup, so the first reload only announces what actually changed.
func NewCoordinator(watcher *Watcher, broadcaster *Broadcaster, reload ReloadFunc, initial map[string]any) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	snapshot := make(map[string]any, len(initial))
	for k, v := range initial {
		snapshot[k] = v
	}

	return &Coordinator{
		watcher:      watcher,
		broadcaster:  broadcaster,
		reload:       reload,
		snapshot:     snapshot,
		ctx:          ctx,
		cancel:       cancel,
		debounceTime: 500 * time.Millisecond,
	}
}

// Start begins coordinating reloads.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.isRunning = true
	c.mu.Unlock()

	c.watcher.Start()

	c.wg.Add(1)
	go c.run()

	slog.Info("Reload coordinator started")
	return nil
}

// Stop stops the coordinator.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	c.mu.Unlock()

	c.cancel()
	c.watcher.Stop()
	c.wg.Wait()

	slog.Info("Reload coordinator stopped")
}

// run debounces watcher events and triggers reloads.
func (c *Coordinator) run() {
	defer c.wg.Done()

	var (
		debounceTimer *time.Timer
		timerC        <-chan time.Time
		pending       int
	)

	for {
		select {
		case <-c.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case _, ok := <-c.watcher.Events():
			if !ok {
				return
			}
			pending++
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(c.debounceTime)
				timerC = debounceTimer.C
			} else {
				debounceTimer.Reset(c.debounceTime)
			}

		case <-timerC:
			if pending > 0 {
				slog.Info("Configuration changed", "events", pending)
				if err := c.ReloadNow(c.ctx); err != nil {
					slog.Error("Reload failed, keeping previous settings", "error", err)
				}
				pending = 0
			}
			debounceTimer = nil
			timerC = nil
		}
	}
}

// ReloadNow re-reads the configuration synchronously and broadcasts the
// resulting changes. Safe to call outside the watcher loop (manual
// reload, tests).
func (c *Coordinator) ReloadNow(ctx context.Context) error {
	fresh, err := c.reload()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	changes := c.swapSnapshot(fresh)
	if len(changes) == 0 {
		slog.Debug("Reload produced no setting changes")
		return nil
	}

	var firstErr error
	for _, change := range changes {
		if err := c.broadcaster.Broadcast(ctx, change); err != nil {
			slog.Error("Setting change rejected", "key", change.Key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			slog.Info("Setting changed", "key", change.Key)
		}
	}
	return firstErr
}

// swapSnapshot installs the fresh values and returns one change per key
// that differs. A key missing from the fresh values announces a nil
// value, letting listeners fall back to their defaults.
func (c *Coordinator) swapSnapshot(fresh map[string]any) []settings.Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []settings.Change
	for key, value := range fresh {
		if old, ok := c.snapshot[key]; !ok || !reflect.DeepEqual(old, value) {
			changes = append(changes, settings.Change{Key: key, Value: value})
		}
	}
	for key := range c.snapshot {
		if _, ok := fresh[key]; !ok {
			changes = append(changes, settings.Change{Key: key, Value: nil})
		}
	}

	c.snapshot = fresh
	return changes
}

// SetDebounceTime sets the debounce time for reload events.
func (c *Coordinator) SetDebounceTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounceTime = d
}

// IsRunning returns whether the coordinator is currently running.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}
