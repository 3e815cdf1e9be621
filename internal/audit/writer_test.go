package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maxamillion/rhails/internal/domain"
)

type memSink struct {
	mu      sync.Mutex
	records []*domain.AuditRecord
	err     error
}

func (s *memSink) InsertAuditRecord(ctx context.Context, record *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testRecord() *domain.AuditRecord {
	return &domain.AuditRecord{
		RecordID:  uuid.NewString(),
		Stage:     domain.AuditIntentCompiled,
		Actor:     "user-1",
		SessionID: "sess-1",
		Outcome:   "compiled",
	}
}

func readFallbackLines(t *testing.T, dir string) []string {
	t.Helper()
	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".ndjson")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fallback file: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestWriterDrainsToSink(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	w, err := NewWriter(sink, Config{QueueSize: 8, FallbackDir: t.TempDir()}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		w.Record(testRecord())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if n := sink.count(); n != 3 {
		t.Fatalf("expected 3 records in sink, got %d", n)
	}
}

func TestWriterStampsTimestamp(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	w, err := NewWriter(sink, Config{QueueSize: 8, FallbackDir: t.TempDir()}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	record := testRecord()
	w.Record(record)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if record.Timestamp.IsZero() {
		t.Fatal("expected a timestamp to be stamped on enqueue")
	}
}

func TestWriterFallsBackWhenSinkFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &memSink{err: errors.New("database locked")}
	w, err := NewWriter(sink, Config{QueueSize: 8, FallbackDir: dir}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	record := testRecord()
	w.Record(record)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readFallbackLines(t, dir)
	if len(lines) != 1 {
		t.Fatalf("expected 1 fallback line, got %d", len(lines))
	}

	var got domain.AuditRecord
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal fallback line: %v", err)
	}
	if got.RecordID != record.RecordID || got.Outcome != "compiled" {
		t.Fatalf("unexpected fallback record: %+v", got)
	}
}

func TestWriterNeverBlocksOnFullQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	started := make(chan struct{})
	release := make(chan struct{})
	sink := &gatedSink{started: started, release: release}

	w, err := NewWriter(sink, Config{QueueSize: 1, FallbackDir: dir}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	// First record occupies the drain goroutine inside the sink.
	w.Record(testRecord())
	<-started

	// Second fills the queue, third must overflow to the fallback file
	// without blocking this goroutine.
	w.Record(testRecord())
	overflow := testRecord()
	w.Record(overflow)

	close(release)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readFallbackLines(t, dir)
	if len(lines) != 1 {
		t.Fatalf("expected 1 overflow line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], overflow.RecordID) {
		t.Fatalf("fallback line should hold the overflowed record: %s", lines[0])
	}
}

type gatedSink struct {
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
}

func (s *gatedSink) InsertAuditRecord(ctx context.Context, record *domain.AuditRecord) error {
	s.startOnce.Do(func() { close(s.started) })
	<-s.release
	return nil
}

func TestWriterRecordAfterCloseFallsBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &memSink{}
	w, err := NewWriter(sink, Config{QueueSize: 8, FallbackDir: dir}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A late record, for example from a sweep racing shutdown, must land
	// in the fallback file instead of panicking on the closed queue.
	late := testRecord()
	w.Record(late)

	if n := sink.count(); n != 0 {
		t.Fatalf("expected nothing in the sink after close, got %d", n)
	}
	lines := readFallbackLines(t, dir)
	if len(lines) != 1 || !strings.Contains(lines[0], late.RecordID) {
		t.Fatalf("expected the late record in the fallback file, got %v", lines)
	}
}
