package updatelog

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	var counter int
	log, err := Open(Options{
		Path:  filepath.Join(t.TempDir(), "updates.db"),
		Clock: func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		UpdateID: func() string {
			counter++
			return fmt.Sprintf("upd_%d", counter)
		},
	})
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestAppendAndPendingCount(t *testing.T) {
	log := openTestLog(t)
	if _, err := log.Append("doc_1", 3, []byte{1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.Append("doc_1", 3, []byte{2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	count, err := log.Pending()
	if err != nil || count != 2 {
		t.Fatalf("expected 2 pending, got %d (%v)", count, err)
	}
}

func TestNextBatchFIFOOrder(t *testing.T) {
	log := openTestLog(t)
	for i := 0; i < 5; i++ {
		if _, err := log.Append("doc_1", int64(i), []byte{byte(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	batch, err := log.NextBatch(3)
	if err != nil {
		t.Fatalf("next batch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(batch))
	}
	for i, update := range batch {
		if update.ClientUpdateID != fmt.Sprintf("upd_%d", i+1) {
			t.Fatalf("entry %d out of order: %s", i, update.ClientUpdateID)
		}
	}
}

func TestMarkAppliedRemovesEntry(t *testing.T) {
	log := openTestLog(t)
	update, _ := log.Append("doc_1", 0, []byte{1})
	_, _ = log.Append("doc_1", 0, []byte{2})

	if err := log.MarkApplied(update.ClientUpdateID, 10); err != nil {
		t.Fatalf("mark applied: %v", err)
	}
	count, _ := log.Pending()
	if count != 1 {
		t.Fatalf("expected 1 pending after ack, got %d", count)
	}
	batch, _ := log.NextBatch(10)
	if len(batch) != 1 || batch[0].ClientUpdateID == update.ClientUpdateID {
		t.Fatalf("acked entry still present: %+v", batch)
	}
}

func TestMarkAppliedUnknownIDIsNoop(t *testing.T) {
	log := openTestLog(t)
	if err := log.MarkApplied("never_seen", 1); err != nil {
		t.Fatalf("replayed ack must not fail: %v", err)
	}
}

func TestLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "updates.db")

	log, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := log.Append("doc_1", 4, []byte("offline edit")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	count, err := reopened.Pending()
	if err != nil || count != 1 {
		t.Fatalf("expected the offline edit to survive restart, got %d (%v)", count, err)
	}
	batch, _ := reopened.NextBatch(1)
	if len(batch) != 1 || string(batch[0].Payload) != "offline edit" {
		t.Fatalf("payload lost across restart: %+v", batch)
	}
}
