package spool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu      sync.Mutex
	updates map[string][]byte
}

func newCaptureSink() *captureSink {
	return &captureSink{updates: map[string][]byte{}}
}

func (s *captureSink) Enqueue(docID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[docID] = payload
	return nil
}

func (s *captureSink) get(docID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.updates[docID]
	return payload, ok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatcherDrainsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc_1__a.bin"), []byte("offline"), 0o644); err != nil {
		t.Fatalf("seed spool file: %v", err)
	}

	sink := newCaptureSink()
	watcher, err := NewWatcher(Options{Dir: dir, Enqueue: sink.Enqueue, SettleDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	waitFor(t, "existing file drained", func() bool {
		_, ok := sink.get("doc_1")
		return ok
	})
	waitFor(t, "file removed", func() bool {
		_, err := os.Stat(filepath.Join(dir, "doc_1__a.bin"))
		return os.IsNotExist(err)
	})
}

func TestWatcherConsumesNewFiles(t *testing.T) {
	dir := t.TempDir()
	sink := newCaptureSink()
	watcher, err := NewWatcher(Options{Dir: dir, Enqueue: sink.Enqueue, SettleDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	// Give the watch loop a moment to start before dropping the file.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "doc_9__b.bin"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("drop spool file: %v", err)
	}

	waitFor(t, "new file consumed", func() bool {
		payload, ok := sink.get("doc_9")
		return ok && len(payload) == 3
	})
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "noseparator.bin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	sink := newCaptureSink()
	watcher, err := NewWatcher(Options{Dir: dir, Enqueue: sink.Enqueue, SettleDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	time.Sleep(150 * time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.updates) != 0 {
		t.Fatalf("non-update files must be ignored, got %+v", sink.updates)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("ignored file must not be deleted: %v", err)
	}
}

func TestDocIDFromName(t *testing.T) {
	cases := []struct {
		name  string
		docID string
		ok    bool
	}{
		{"doc_1__abc.bin", "doc_1", true},
		{"doc__x__y.bin", "doc", true},
		{"plain.bin", "", false},
		{"__orphan.bin", "", false},
	}
	for _, tc := range cases {
		docID, ok := docIDFromName(tc.name)
		if docID != tc.docID || ok != tc.ok {
			t.Fatalf("%s: got (%q,%v), want (%q,%v)", tc.name, docID, ok, tc.docID, tc.ok)
		}
	}
}
