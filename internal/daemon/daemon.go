package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openplanning/scensync/internal/export"
	"github.com/openplanning/scensync/internal/model"
)

// Importer is the store-facing half of the daemon: it receives the
// current record set for one entity type of one scenario.
type Importer interface {
	ReplaceAll(ctx context.Context, scenarioID string, t model.EntityType, records []model.Record) error
}

// Options configures a Daemon.
type Options struct {
	// ScenarioRoot is the directory containing per-scenario bundle
	// directories.
	ScenarioRoot string

	// LogPath enables rotating file logging when set. Empty means
	// stderr.
	LogPath string

	// OnSync, when set, is called after a bundle is synced into the
	// store.
	OnSync func(scenarioID string, t model.EntityType, recordCount int)

	Logger *log.Logger
}

// Daemon consumes bundle file events and re-imports changed bundles
// into the store. Invalid bundles are logged and skipped; the store
// keeps its previous state for that type until the file is fixed.
type Daemon struct {
	store   Importer
	opts    Options
	logger  *log.Logger
	watcher *BundleWatcher
}

// New creates a daemon over the given store.
func New(store Importer, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogPath)
	}
	return &Daemon{
		store:  store,
		opts:   opts,
		logger: logger,
	}, nil
}

// NewLogger builds the daemon logger. A non-empty path gets rotating
// file output; otherwise logs go to stderr.
func NewLogger(path string) *log.Logger {
	var w io.Writer = os.Stderr
	if path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(w, "[daemon] ", log.LstdFlags)
}

// Run watches the scenario root until the context is canceled. On each
// bundle change it re-validates the file and replaces that entity
// type's records in the store.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := NewBundleWatcher()
	if err != nil {
		return err
	}
	d.watcher = watcher

	if err := watcher.Start(d.opts.ScenarioRoot); err != nil {
		return err
	}
	defer watcher.Stop()

	d.logger.Printf("watching %s", d.opts.ScenarioRoot)

	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("shutting down: %v", ctx.Err())
			return ctx.Err()

		case event, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			if err := d.handleEvent(ctx, event); err != nil {
				d.logger.Printf("sync failed for %s: %v", event.Path, err)
			}

		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			d.logger.Printf("watch error: %v", err)
		}
	}
}

// handleEvent syncs one changed bundle into the store. A deleted bundle
// empties that entity type for the scenario.
func (d *Daemon) handleEvent(ctx context.Context, event BundleEvent) error {
	if event.Op == OpDelete {
		if err := d.store.ReplaceAll(ctx, event.ScenarioID, event.EntityType, nil); err != nil {
			return err
		}
		d.logger.Printf("scenario %s: %s bundle removed, cleared store",
			event.ScenarioID, event.EntityType)
		d.notify(event.ScenarioID, event.EntityType, 0)
		return nil
	}

	data, err := os.ReadFile(event.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted between the event and the read.
			return nil
		}
		return err
	}

	bundle, err := export.ParseBundle(event.EntityType, data)
	if err != nil {
		return err
	}
	records, err := export.Import(bundle)
	if err != nil {
		return fmt.Errorf("bundle rejected: %w", err)
	}

	if err := d.store.ReplaceAll(ctx, event.ScenarioID, event.EntityType, records); err != nil {
		return err
	}
	d.logger.Printf("scenario %s: synced %d %s records (%s)",
		event.ScenarioID, len(records), event.EntityType, event.Op)
	d.notify(event.ScenarioID, event.EntityType, len(records))
	return nil
}

func (d *Daemon) notify(scenarioID string, t model.EntityType, count int) {
	if d.opts.OnSync != nil {
		d.opts.OnSync(scenarioID, t, count)
	}
}
