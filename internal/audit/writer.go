// Package audit provides the append-only audit trail writer. Records are
// queued and written asynchronously so auditing never blocks the
// conversation path, and fall back to NDJSON files when the store is down.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maxamillion/rhails/internal/domain"
)

// Sink receives audit records. The SQLite repository satisfies it.
type Sink interface {
	InsertAuditRecord(ctx context.Context, record *domain.AuditRecord) error
}

// Config controls the writer's queue and fallback location.
type Config struct {
	QueueSize   int
	FallbackDir string
}

// Writer appends audit records through a bounded queue. Record never blocks
// and never fails the caller; when the queue is full or the sink errors, the
// record goes to the NDJSON fallback file instead of being dropped silently.
type Writer struct {
	sink  Sink
	cfg   Config
	log   *slog.Logger
	queue chan *domain.AuditRecord

	closeOnce sync.Once
	done      chan struct{}

	// stateMu guards closed and is read-held across the queue send so
	// Close never pulls the channel out from under an in-flight Record.
	stateMu sync.RWMutex
	closed  bool

	fileMu sync.Mutex
}

// NewWriter starts the background drain goroutine.
func NewWriter(sink Sink, cfg Config, log *slog.Logger) (*Writer, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.FallbackDir, 0755); err != nil {
		return nil, fmt.Errorf("create audit fallback directory: %w", err)
	}

	w := &Writer{
		sink:  sink,
		cfg:   cfg,
		log:   log,
		queue: make(chan *domain.AuditRecord, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w, nil
}

// Record enqueues an audit record. It never blocks: when the queue is full
// the record is written straight to the fallback file.
func (w *Writer) Record(record *domain.AuditRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	if w.closed {
		w.log.Warn("audit writer closed, writing record to fallback", "record_id", record.RecordID)
		w.writeFallback(record)
		return
	}

	select {
	case w.queue <- record:
	default:
		w.log.Warn("audit queue full, writing record to fallback", "record_id", record.RecordID)
		w.writeFallback(record)
	}
}

// Close flushes queued records and stops the drain goroutine. Records
// arriving afterwards go to the fallback file instead of being dropped.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.stateMu.Lock()
		w.closed = true
		w.stateMu.Unlock()
		close(w.queue)
		<-w.done
	})
	return nil
}

func (w *Writer) drain() {
	defer close(w.done)
	for record := range w.queue {
		w.persist(record)
	}
}

func (w *Writer) persist(record *domain.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.sink.InsertAuditRecord(ctx, record); err != nil {
		w.log.Error("audit store write failed, using fallback",
			"record_id", record.RecordID, "error", err)
		w.writeFallback(record)
	}
}

// writeFallback appends the record as one NDJSON line, partitioned by day.
func (w *Writer) writeFallback(record *domain.AuditRecord) {
	line, err := json.Marshal(record)
	if err != nil {
		w.log.Error("marshal audit record failed", "record_id", record.RecordID, "error", err)
		return
	}

	path := filepath.Join(w.cfg.FallbackDir, record.Timestamp.UTC().Format("2006-01-02")+".ndjson")

	w.fileMu.Lock()
	defer w.fileMu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.log.Error("open audit fallback file failed", "path", path, "error", err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			w.log.Warn("close audit fallback file failed", "path", path, "error", closeErr)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		w.log.Error("write audit fallback line failed", "path", path, "error", err)
	}
}
