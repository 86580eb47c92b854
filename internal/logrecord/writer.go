package logrecord

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends records to per-day log files in a directory
type Writer struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewWriter creates a writer for the given log directory
func NewWriter(dir string) *Writer {
	return &Writer{
		dir: dir,
		now: time.Now,
	}
}

// Dir returns the log directory
func (w *Writer) Dir() string {
	return w.dir
}

// Append writes one record to <dir>/<date>.<kind>.txt. A zero timestamp is
// replaced with the current time.
func (w *Writer) Append(rec Record) error {
	if _, ok := schemas[rec.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, rec.Kind)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(w.dir, FileName(DateOf(rec.Timestamp), rec.Kind))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if _, err := file.WriteString(rec.Line() + "\n"); err != nil {
		_ = file.Close()
		return fmt.Errorf("write log file: %w", err)
	}
	return file.Close()
}
