// Package wal is the append-only journal of push runs. Each run writes
// one JSON-lines file; the journal drives resume and rollback.
package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// FilePrefix names journal files: <prefix>-<run id>.wal.
const FilePrefix = "push"

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryStarted        EntryType = "started"
	EntryCreated        EntryType = "created"
	EntryUpdated        EntryType = "updated"
	EntrySkipped        EntryType = "skipped"
	EntryFailed         EntryType = "failed"
	EntryNotImplemented EntryType = "not_implemented"
	EntryFinished       EntryType = "finished"
	EntryRolledBack     EntryType = "rolled_back"
	EntryRollbackFailed EntryType = "rollback_failed"
)

// Completed reports whether an item journaled with t reached the
// destination and must not be written again on resume.
func (t EntryType) Completed() bool {
	return t == EntryCreated || t == EntryUpdated
}

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	RunID     string          `json:"run_id"`
	Type      EntryType       `json:"type"`
	Key       string          `json:"key,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Container string          `json:"container,omitempty"`
	Name      string          `json:"name,omitempty"`
	NewName   string          `json:"new_name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ErrNoRun is returned when a run has no journal.
var ErrNoRun = errors.New("no journal for run")

// ErrCorrupt marks a line that is not a journal entry.
var ErrCorrupt = errors.New("corrupt journal entry")

// WAL is the open journal of one run.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	runID    string
	path     string
	now      func() time.Time
}

// Path returns the journal file of runID in dir.
func Path(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.wal", FilePrefix, runID))
}

// Open creates or reopens the journal of runID. Reopening continues the
// sequence after the last entry.
func Open(dir, runID string) (*WAL, error) {
	if !runIDPattern.MatchString(runID) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	path := Path(dir, runID)
	last, err := lastSequence(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G304 -- path built from validated run id
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		sequence: last,
		runID:    runID,
		path:     path,
		now:      time.Now,
	}, nil
}

// RunID returns the run the journal belongs to.
func (w *WAL) RunID() string {
	return w.runID
}

// Close flushes and closes the journal
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry, stamping sequence, time and run id.
func (w *WAL) Append(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sequence++
	entry.Sequence = w.sequence
	entry.Timestamp = w.now().UTC()
	entry.RunID = w.runID

	return w.writeEntry(entry)
}

// AppendData adds an entry carrying data marshaled as JSON.
func (w *WAL) AppendData(entry Entry, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	entry.Data = raw
	return w.Append(entry)
}

// writeEntry writes a single entry to the journal
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

// lastSequence returns the highest sequence in an existing journal file.
func lastSequence(path string) (int64, error) {
	reader, err := NewReader(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = reader.Close() }()

	var last int64
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return last, nil
		}
		if errors.Is(err, ErrCorrupt) {
			// A torn last line is skipped.
			continue
		}
		if err != nil {
			return 0, err
		}
		if entry.Sequence > last {
			last = entry.Sequence
		}
	}
}

// Reader provides journal replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- journal path
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Reader{
		scanner: scanner,
		file:    file,
	}, nil
}

// Next reads the next entry
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadRun returns every entry of runID in sequence order. Unreadable
// lines are skipped.
func ReadRun(dir, runID string) ([]Entry, error) {
	if !runIDPattern.MatchString(runID) {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	reader, err := NewReader(Path(dir, runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w %s", ErrNoRun, runID)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	var entries []Entry
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return entries, nil
		}
		if errors.Is(err, ErrCorrupt) {
			continue
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, *entry)
	}
}

// Replay calls handler for every entry written after since, across all
// journal files in dir.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"-*.wal"))
	if err != nil {
		return fmt.Errorf("failed to list journal files: %w", err)
	}

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
