package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// updateExt is the extension the editor process uses for dropped update
// blobs. The file name is "<docID>__<unique>.bin".
const updateExt = ".bin"

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// Dir is the drop directory written by the (external) editor process.
	Dir string
	// Enqueue receives each captured update blob. The watcher deletes the
	// file only after Enqueue returns nil.
	Enqueue func(docID string, payload []byte) error
	Logger  Logger
	// SettleDelay is how long a file must be quiet before it is consumed,
	// so a half-written blob is never picked up.
	SettleDelay time.Duration
}

// Watcher turns files dropped into a spool directory into queued updates.
// This is the daemon's capture path for edits made while the realtime
// channel is down: blobs land on disk first and drain into the update log.
type Watcher struct {
	dir         string
	enqueue     func(docID string, payload []byte) error
	logger      Logger
	settleDelay time.Duration

	fs *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewWatcher(opts Options) (*Watcher, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("spool dir is required")
	}
	if opts.Enqueue == nil {
		return nil, fmt.Errorf("enqueue sink is required")
	}
	settleDelay := opts.SettleDelay
	if settleDelay <= 0 {
		settleDelay = 100 * time.Millisecond
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return &Watcher{
		dir:         dir,
		enqueue:     opts.Enqueue,
		logger:      opts.Logger,
		settleDelay: settleDelay,
		fs:          fs,
		timers:      map[string]*time.Timer{},
	}, nil
}

// Run drains blobs already in the directory, then consumes new ones as they
// settle, until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimers()
	defer func() { _ = w.fs.Close() }()

	if err := w.drainExisting(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if filepath.Ext(event.Name) != updateExt {
				continue
			}
			w.scheduleConsume(event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Printf("spool watch error: %v", err)
			}
		}
	}
}

func (w *Watcher) drainExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != updateExt {
			continue
		}
		w.consume(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// scheduleConsume debounces per file: every new event pushes the settle
// timer back out.
func (w *Watcher) scheduleConsume(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.settleDelay)
		return
	}
	w.timers[path] = time.AfterFunc(w.settleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.consume(path)
	})
}

func (w *Watcher) consume(path string) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && w.logger != nil {
			w.logger.Printf("spool read failed for %s: %v", path, err)
		}
		return
	}
	docID, ok := docIDFromName(filepath.Base(path))
	if !ok {
		if w.logger != nil {
			w.logger.Printf("ignoring spool file with unparseable name: %s", filepath.Base(path))
		}
		return
	}
	if err := w.enqueue(docID, payload); err != nil {
		if w.logger != nil {
			w.logger.Printf("spool enqueue failed for %s: %v", path, err)
		}
		return
	}
	if err := os.Remove(path); err != nil && w.logger != nil {
		w.logger.Printf("spool cleanup failed for %s: %v", path, err)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}

func docIDFromName(name string) (string, bool) {
	base := strings.TrimSuffix(name, updateExt)
	docID, _, found := strings.Cut(base, "__")
	if !found || docID == "" {
		return "", false
	}
	return docID, true
}
