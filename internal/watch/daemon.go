package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/claystudio/contentsync/internal/content"
	"github.com/claystudio/contentsync/internal/logger"
	"github.com/claystudio/contentsync/internal/publish"
	"github.com/claystudio/contentsync/internal/store"
)

// Store is the store a daemon writes to.
type Store interface {
	store.Client
	Publish(ctx context.Context, id string) (*store.Document, error)
}

// Listener is told about every publish and delete the daemon performs.
type Listener interface {
	OnPublished(doc *store.Document)
	OnDeleted(id string)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must be quiet before it is
	// published. Editors often write a file several times in a row.
	DebounceInterval time.Duration

	// Hook wraps the publish action (default: a hook logging through Logger).
	Hook *publish.Hook

	// Listener is optional.
	Listener Listener

	Logger *logger.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Logger:           logger.Nop(),
	}
}

// SyncStats counts what a sync pass did.
type SyncStats struct {
	Published int
	Deleted   int
	Unchanged int
	Failed    int
}

// Daemon publishes document files from a directory.
//
// Each *.json file holds one document as a flat JSON object with _id and
// _type. A created or written file is stored as a draft and published; a
// removed file deletes the document. Both go through the publish actions, so
// the home page is reconciled exactly as for an editor publish.
type Daemon struct {
	store  Store
	dir    string
	config *Config
	log    *logger.Logger

	publisher publish.Action
	deleter   publish.Action

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	// ids and fingerprints of the last successfully published file content.
	stateMu      sync.Mutex
	ids          map[string]string
	fingerprints map[string]uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for dir. Use Start to begin watching.
func New(st Store, dir string, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}
	hook := config.Hook
	if hook == nil {
		hook = publish.NewHook(log)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:        st,
		dir:          abs,
		config:       config,
		log:          log.Named("watch"),
		publisher:    hook.Wrap(publish.Publisher{Publish: st.Publish}),
		deleter:      hook.Wrap(publish.Deleter{}),
		changeQueue:  make(map[string]time.Time),
		ids:          make(map[string]string),
		fingerprints: make(map[string]uint64),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start performs a full sync, then publishes changes until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	stats, err := d.PerformFullSync(ctx)
	if err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	d.log.Info("initial sync complete",
		"dir", d.dir, "published", stats.Published, "unchanged", stats.Unchanged, "failed", stats.Failed)

	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	if err := fw.Start(d.dir); err != nil {
		return err
	}

	d.wg.Add(2)
	go d.watchFileEvents(fw)
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
	case <-d.ctx.Done():
	}

	d.cancel()
	if err := fw.Stop(); err != nil {
		d.log.Warn("error closing watcher", "error", err)
	}
	d.wg.Wait()
	d.log.Info("watch stopped")
	return nil
}

// Stop ends a running Start.
func (d *Daemon) Stop() {
	d.cancel()
}

// PerformFullSync publishes every document file in the directory whose
// content differs from the published document.
func (d *Daemon) PerformFullSync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return stats, fmt.Errorf("failed to read %s: %w", d.dir, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isDocumentFile(e.Name()) {
			paths = append(paths, filepath.Join(d.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := d.SyncFile(ctx, path, &stats); err != nil {
			stats.Failed++
			d.log.Warn("failed to sync file", "path", path, "error", err)
		}
	}
	return stats, nil
}

// SyncFile publishes or deletes the document behind path, depending on
// whether the file still exists.
func (d *Daemon) SyncFile(ctx context.Context, path string, stats *SyncStats) error {
	if stats == nil {
		stats = &SyncStats{}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d.deleteFile(ctx, path, stats)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := parseDocument(path, data)
	if err != nil {
		return err
	}
	id := content.PublishedID(doc.ID)
	sum := fingerprint(doc.Fields)

	d.stateMu.Lock()
	prevID, known := d.ids[path]
	prevSum := d.fingerprints[path]
	d.stateMu.Unlock()

	if known && prevID == id && prevSum == sum {
		stats.Unchanged++
		return nil
	}
	if !known {
		// First sight of the file: compare against what is already live.
		if live, err := d.store.Get(ctx, id); err == nil && live.Type == doc.Type && fingerprint(live.Fields) == sum {
			d.remember(path, id, sum)
			stats.Unchanged++
			return nil
		}
	}

	draft := store.NewDocument(content.DraftID(id), doc.Type, doc.Fields)
	if _, err := d.store.CreateOrReplace(ctx, draft); err != nil {
		return fmt.Errorf("failed to write draft %s: %w", draft.ID, err)
	}

	if err := d.run(ctx, d.publisher, id, doc.Type); err != nil {
		return err
	}
	d.remember(path, id, sum)

	// A file renamed to a new _id leaves the old document behind.
	if known && prevID != id {
		if err := d.run(ctx, d.deleter, prevID, doc.Type); err != nil {
			d.log.Warn("failed to delete previous document", "id", prevID, "error", err)
		} else {
			d.notifyDeleted(prevID)
		}
	}

	stats.Published++
	d.log.Info("published", "id", id, "type", doc.Type)
	if d.config.Listener != nil {
		d.config.Listener.OnPublished(store.NewDocument(id, doc.Type, doc.Fields))
	}
	return nil
}

func (d *Daemon) deleteFile(ctx context.Context, path string, stats *SyncStats) error {
	d.stateMu.Lock()
	id, known := d.ids[path]
	delete(d.ids, path)
	delete(d.fingerprints, path)
	d.stateMu.Unlock()

	if !known {
		id = content.PublishedID(strings.TrimSuffix(filepath.Base(path), ".json"))
	}

	if err := d.run(ctx, d.deleter, id, ""); err != nil {
		return err
	}
	stats.Deleted++
	d.log.Info("deleted", "id", id)
	d.notifyDeleted(id)
	return nil
}

// run executes an action against the daemon's store. The local store has a
// single credential, so elevated and regular clients are the same.
func (d *Daemon) run(ctx context.Context, action publish.Action, id, typ string) error {
	res := action.Run(publish.Props{
		ID:   id,
		Type: typ,
		Client: func(publish.ClientOptions) (store.Client, error) {
			return d.store, nil
		},
	})
	return res.OnHandle(ctx)
}

func (d *Daemon) remember(path, id string, sum uint64) {
	d.stateMu.Lock()
	d.ids[path] = id
	d.fingerprints[path] = sum
	d.stateMu.Unlock()
}

func (d *Daemon) notifyDeleted(id string) {
	if d.config.Listener != nil {
		d.config.Listener.OnDeleted(id)
	}
}

func (d *Daemon) watchFileEvents(fw *FileWatcher) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-fw.Events():
			if !ok {
				return
			}
			d.log.Debug("file event", "op", event.Op.String(), "path", event.Path)
			d.queueChange(event.Path)

		case err, ok := <-fw.Errors():
			if !ok {
				return
			}
			d.log.Warn("watcher error", "error", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges syncs files that have been quiet for the debounce
// interval. The event itself does not matter; SyncFile checks the disk.
func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) >= d.config.DebounceInterval {
			ready = append(ready, path)
			delete(d.changeQueue, path)
		}
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if err := d.SyncFile(d.ctx, path, nil); err != nil {
			d.log.Warn("failed to sync file", "path", path, "error", err)
		}
	}
}

// parseDocument decodes a document file. A missing _id falls back to the
// file name.
func parseDocument(path string, data []byte) (*store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", filepath.Base(path), err)
	}
	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if doc.Type == "" {
		return nil, fmt.Errorf("%s: _type is required", filepath.Base(path))
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	return &doc, nil
}

// fingerprint hashes fields in canonical form. encoding/json sorts map keys,
// so equal field sets hash equally.
func fingerprint(fields map[string]any) uint64 {
	data, err := json.Marshal(fields)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}
