package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hybridfetch/hybridfetch/internal/result"
)

const defaultBufferSize = 100

// ResultLog buffers stats rows and appends them to a JSONL file in batches,
// so a crash mid-run loses at most one buffer of rows.
type ResultLog struct {
	mu      sync.Mutex
	path    string
	bufSize int
	pending []result.UrlStat
}

// NewResultLog creates the parent directory for path if needed and returns a
// log that flushes every bufSize rows. bufSize <= 0 selects the default.
func NewResultLog(path string, bufSize int) (*ResultLog, error) {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create stats dir: %w", err)
		}
	}
	return &ResultLog{path: path, bufSize: bufSize}, nil
}

// Append queues a row, flushing to disk when the buffer fills.
func (l *ResultLog) Append(row result.UrlStat) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, row)
	if len(l.pending) >= l.bufSize {
		return l.flushLocked()
	}
	return nil
}

// Flush writes any buffered rows to disk.
func (l *ResultLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// Close flushes remaining rows. The log must not be used afterwards.
func (l *ResultLog) Close() error {
	return l.Flush()
}

func (l *ResultLog) flushLocked() error {
	if len(l.pending) == 0 {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open stats log: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, row := range l.pending {
		if err := enc.Encode(row); err != nil {
			f.Close()
			return fmt.Errorf("encode stats row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush stats log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close stats log: %w", err)
	}
	l.pending = l.pending[:0]
	return nil
}

// WriteSummary writes the run summary as indented JSON.
func WriteSummary(path string, summary result.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create summary dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// ReadStatsJSONL loads all rows from a JSONL stats file. A missing file
// yields an empty slice.
func ReadStatsJSONL(path string) ([]result.UrlStat, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open stats log: %w", err)
	}
	defer f.Close()

	var rows []result.UrlStat
	dec := json.NewDecoder(f)
	for dec.More() {
		var row result.UrlStat
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode stats row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
