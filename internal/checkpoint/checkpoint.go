// Package checkpoint records per-document progress for a batch run in an
// append-only log, so multi-day runs can resume without reprocessing
// documents that already reached a terminal disposition.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackzampolin/docuport/internal/document"
)

// ErrConflict is returned when a terminal disposition is re-recorded with a
// different value. This is a programming error, never silently absorbed.
var ErrConflict = errors.New("checkpoint conflict")

// recordType distinguishes audit stage events from authoritative terminal
// dispositions. Resume consults terminal records only: a crash mid-document
// restarts that document from detection.
type recordType string

const (
	recordStage    recordType = "stage"
	recordTerminal recordType = "terminal"
)

// record is one line of the checkpoint log.
type record struct {
	Type        recordType           `json:"type"`
	DocumentID  string               `json:"document_id"`
	Stage       document.Stage       `json:"stage,omitempty"`
	Disposition document.Disposition `json:"disposition,omitempty"`
	Timestamp   time.Time            `json:"ts"`
}

// Store is an append-only checkpoint log for one batch run.
// All appends go through a single mutex: writes are quick local appends, and
// a single log file serializes conflicting writers for the same document by
// construction.
type Store struct {
	batchID string
	path    string
	logger  *slog.Logger

	mu        sync.Mutex
	f         *os.File
	completed map[string]document.Disposition
}

// Open opens (or creates) the checkpoint log for a batch run and replays any
// existing records. A truncated final line from a crashed writer is skipped.
func Open(dir, batchID string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(dir, batchID+".jsonl")
	s := &Store{
		batchID:   batchID,
		path:      path,
		logger:    logger.With("component", "checkpoint", "batch", batchID),
		completed: make(map[string]document.Disposition),
	}

	if err := s.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint log: %w", err)
	}
	s.f = f

	if len(s.completed) > 0 {
		s.logger.Info("loaded checkpoint", "completed", len(s.completed))
	}
	return s, nil
}

// replay loads terminal dispositions from an existing log.
func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checkpoint log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A crash between write and sync can leave a partial last line.
			s.logger.Warn("skipping unparseable checkpoint record", "error", err)
			continue
		}
		if rec.Type == recordTerminal {
			s.completed[rec.DocumentID] = rec.Disposition
		}
	}
	return scanner.Err()
}

// BatchID returns the batch run identifier this log is scoped to.
func (s *Store) BatchID() string {
	return s.batchID
}

// MarkStage appends an audit record for a stage transition. Stage records do
// not affect resume; they exist so a crashed run can be diagnosed.
func (s *Store) MarkStage(docID string, stage document.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(record{
		Type:       recordStage,
		DocumentID: docID,
		Stage:      stage,
		Timestamp:  time.Now().UTC(),
	}, false)
}

// MarkComplete durably records a document's terminal disposition.
// Re-recording the same disposition is a no-op; recording a different one
// fails with ErrConflict.
func (s *Store) MarkComplete(docID string, disp document.Disposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.completed[docID]; ok {
		if prev == disp {
			return nil
		}
		return fmt.Errorf("%w: document %s already recorded as %s, refusing %s",
			ErrConflict, docID, prev, disp)
	}

	err := s.append(record{
		Type:        recordTerminal,
		DocumentID:  docID,
		Disposition: disp,
		Timestamp:   time.Now().UTC(),
	}, true)
	if err != nil {
		return err
	}

	s.completed[docID] = disp
	return nil
}

// Completed returns a copy of the terminal dispositions recorded so far.
func (s *Store) Completed() map[string]document.Disposition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]document.Disposition, len(s.completed))
	for k, v := range s.completed {
		out[k] = v
	}
	return out
}

// append writes one record. Terminal records are synced to disk before the
// caller proceeds; stage records are best-effort audit data.
func (s *Store) append(rec record, sync bool) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint record: %w", err)
	}
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append checkpoint record: %w", err)
	}
	if sync {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("failed to sync checkpoint log: %w", err)
		}
	}
	return nil
}

// Close closes the underlying log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
