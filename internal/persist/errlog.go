package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ChunkError describes one failed chunk write.
type ChunkError struct {
	Time        time.Time `json:"time"`
	BlockNumber uint64    `json:"block_number"`
	Rows        int       `json:"rows"`
	Error       string    `json:"error"`
}

// ErrorLog is the durable side channel for failed chunk writes.
// It is append-only; the pipeline never reads it back.
type ErrorLog interface {
	Append(entry ChunkError) error
}

// FileErrorLog appends chunk errors as JSON lines to a file.
type FileErrorLog struct {
	mu   sync.Mutex
	path string
}

// NewFileErrorLog creates a file-backed error log at path.
func NewFileErrorLog(path string) *FileErrorLog {
	return &FileErrorLog{path: path}
}

// Compile-time interface check.
var _ ErrorLog = (*FileErrorLog)(nil)

// Append writes one entry. The file is opened per append so a deleted or
// rotated file never wedges the pipeline.
func (l *FileErrorLog) Append(entry ChunkError) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal chunk error: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	return nil
}
