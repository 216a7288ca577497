// Package daemon watches scenario bundle files and keeps the embedded
// store in step with edits made outside a merge session.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/openplanning/scensync/internal/model"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new bundle file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing bundle file was modified.
	OpModify
	// OpDelete indicates a bundle file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// BundleEvent is one file system event on a scenario bundle file.
type BundleEvent struct {
	// Path is the absolute path to the bundle file.
	Path string
	// ScenarioID is the scenario the bundle belongs to (its directory
	// name).
	ScenarioID string
	// EntityType is the bundle's entity type, derived from the filename.
	EntityType model.EntityType
	// Op is the operation that occurred.
	Op EventOp
}

// BundleWatcher watches a scenarios directory tree for bundle changes.
// It uses fsnotify for cross-platform file system event monitoring.
//
// fsnotify does not recurse, so the watcher covers the scenarios root
// plus every scenario subdirectory, and picks up newly created scenario
// directories as they appear.
type BundleWatcher struct {
	watcher *fsnotify.Watcher
	events  chan BundleEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
}

// NewBundleWatcher creates a watcher. It must be started with Start()
// before it emits events.
func NewBundleWatcher() (*BundleWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &BundleWatcher{
		watcher: watcher,
		events:  make(chan BundleEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the scenarios root and its existing scenario
// subdirectories.
func (bw *BundleWatcher) Start(root string) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.running {
		return fmt.Errorf("watcher already running")
	}
	bw.root = root

	if err := bw.watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch scenarios directory %s: %w", root, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		bw.watcher.Remove(root)
		return fmt.Errorf("failed to list scenarios directory %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if err := bw.watcher.Add(dir); err != nil {
			bw.watcher.Remove(root)
			return fmt.Errorf("failed to watch scenario directory %s: %w", dir, err)
		}
	}

	bw.running = true
	bw.wg.Add(1)
	go bw.processEvents()

	return nil
}

// Stop stops watching and cleans up. It blocks until the event
// processing goroutine has exited.
func (bw *BundleWatcher) Stop() error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.done)

	if err := bw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	bw.wg.Wait()

	close(bw.events)
	close(bw.errors)

	return nil
}

// Events returns the channel that emits BundleEvent notifications.
// Closed when the watcher is stopped.
func (bw *BundleWatcher) Events() <-chan BundleEvent {
	return bw.events
}

// Errors returns the channel that emits error notifications. Closed
// when the watcher is stopped.
func (bw *BundleWatcher) Errors() <-chan error {
	return bw.errors
}

func (bw *BundleWatcher) processEvents() {
	defer bw.wg.Done()

	for {
		select {
		case <-bw.done:
			return

		case event, ok := <-bw.watcher.Events:
			if !ok {
				return
			}

			// New scenario directory: start watching it.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := bw.watcher.Add(event.Name); err != nil {
						select {
						case bw.errors <- err:
						case <-bw.done:
							return
						}
					}
					continue
				}
			}

			if bundleEvent, ok := bw.convertEvent(event); ok {
				select {
				case bw.events <- bundleEvent:
				case <-bw.done:
					return
				}
			}

		case err, ok := <-bw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case bw.errors <- err:
			case <-bw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a BundleEvent. Returns
// false for events that are not bundle file changes.
func (bw *BundleWatcher) convertEvent(event fsnotify.Event) (BundleEvent, bool) {
	if !strings.HasSuffix(event.Name, ".json") {
		return BundleEvent{}, false
	}

	base := strings.TrimSuffix(filepath.Base(event.Name), ".json")
	entityType, err := model.ParseEntityType(base)
	if err != nil {
		return BundleEvent{}, false
	}

	scenarioID := filepath.Base(filepath.Dir(event.Name))
	if scenarioID == filepath.Base(bw.root) {
		// Bundle files live one level down, never at the root.
		return BundleEvent{}, false
	}

	var op EventOp
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return BundleEvent{}, false
	}

	return BundleEvent{
		Path:       event.Name,
		ScenarioID: scenarioID,
		EntityType: entityType,
		Op:         op,
	}, true
}
