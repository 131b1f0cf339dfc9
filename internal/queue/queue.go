// Package queue implements the human validation queue. Each entry is one
// JSON file holding the document snapshot, its review reasons, and the audit
// trail of the decision. Entries move Pending -> {Approved, Rejected} and are
// immutable once decided.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/docuport/internal/document"
)

var (
	// ErrConflict is returned for a double-enqueue or a decision on an
	// already-decided entry. The operation has no effect.
	ErrConflict = errors.New("validation queue conflict")

	// ErrNotFound is returned when no entry matches the given id.
	ErrNotFound = errors.New("validation queue entry not found")

	// ErrReasonRequired is returned when rejecting without a reason.
	ErrReasonRequired = errors.New("rejection reason is required")
)

// Status is the review state of a queue entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Entry is one validation queue record.
type Entry struct {
	ID           string                  `json:"entry_id"`
	DocumentID   string                  `json:"document_id"`
	Reasons      []string                `json:"reasons"`
	Status       Status                  `json:"status"`
	Reviewer     string                  `json:"reviewer,omitempty"`
	RejectReason string                  `json:"reject_reason,omitempty"`
	EnqueuedAt   time.Time               `json:"enqueued_at"`
	DecidedAt    *time.Time              `json:"decided_at,omitempty"`
	Document     *document.FinalDocument `json:"document"`
}

// Terminal reports whether the entry has been decided.
func (e *Entry) Terminal() bool {
	return e.Status == StatusApproved || e.Status == StatusRejected
}

// Filter selects entries for List. Zero value lists pending entries.
type Filter struct {
	Status Status // empty means pending
}

// Queue manages validation entries under a directory. Writes for the same
// document are serialized by a per-document lock; unrelated documents
// proceed concurrently.
type Queue struct {
	dir    string
	docs   *document.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a queue over the given directory. The document store receives
// approved documents as the approve side effect.
func New(dir string, docs *document.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		dir:    dir,
		docs:   docs,
		logger: logger.With("component", "validation_queue"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations on one document's entry.
func (q *Queue) lockFor(docID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		q.locks[docID] = l
	}
	return l
}

func (q *Queue) entryPath(docID string) string {
	return filepath.Join(q.dir, docID+"_review.json")
}

// Enqueue creates a pending entry for a document. It fails with ErrConflict
// if the document already has an open entry: a document has at most one open
// entry at a time.
func (q *Queue) Enqueue(docID string, reasons []string, doc *document.FinalDocument) (string, error) {
	l := q.lockFor(docID)
	l.Lock()
	defer l.Unlock()

	if existing, err := q.readEntry(q.entryPath(docID)); err == nil && !existing.Terminal() {
		return "", fmt.Errorf("%w: document %s already has an open entry (%s)",
			ErrConflict, docID, existing.ID)
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		DocumentID: docID,
		Reasons:    reasons,
		Status:     StatusPending,
		EnqueuedAt: time.Now().UTC(),
		Document:   doc,
	}

	if err := q.writeEntry(entry); err != nil {
		return "", err
	}

	q.logger.Warn("queued for validation", "document", docID, "entry", entry.ID,
		"reasons", strings.Join(reasons, "; "))
	return entry.ID, nil
}

// OpenEntry returns the pending entry for a document, or ErrNotFound when
// the document has no entry or its entry is already decided.
func (q *Queue) OpenEntry(docID string) (*Entry, error) {
	l := q.lockFor(docID)
	l.Lock()
	defer l.Unlock()

	entry, err := q.readEntry(q.entryPath(docID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no open entry for document %s", ErrNotFound, docID)
		}
		return nil, err
	}
	if entry.Terminal() {
		return nil, fmt.Errorf("%w: entry for document %s already %s",
			ErrNotFound, docID, entry.Status)
	}
	return entry, nil
}

// List returns entries matching the filter, ordered by enqueue time.
func (q *Queue) List(filter Filter) ([]*Entry, error) {
	status := filter.Status
	if status == "" {
		status = StatusPending
	}

	paths, err := filepath.Glob(filepath.Join(q.dir, "*_review.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan validation queue: %w", err)
	}

	var out []*Entry
	for _, p := range paths {
		entry, err := q.readEntry(p)
		if err != nil {
			q.logger.Warn("skipping unreadable queue entry", "path", p, "error", err)
			continue
		}
		if entry.Status == status {
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// Get returns the entry with the given entry id.
func (q *Queue) Get(entryID string) (*Entry, error) {
	entry, _, err := q.find(entryID)
	return entry, err
}

// Approve marks an entry approved and moves its document snapshot into the
// final output store. Decisions are final: approving a decided entry fails
// with ErrConflict.
func (q *Queue) Approve(entryID, reviewer string) (*Entry, error) {
	return q.decide(entryID, StatusApproved, reviewer, "")
}

// Reject marks an entry rejected, recording the reviewer and the mandatory
// reason. The document snapshot stays in place with status rejected.
func (q *Queue) Reject(entryID, reviewer, reason string) (*Entry, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	return q.decide(entryID, StatusRejected, reviewer, reason)
}

func (q *Queue) decide(entryID string, status Status, reviewer, reason string) (*Entry, error) {
	entry, path, err := q.find(entryID)
	if err != nil {
		return nil, err
	}

	l := q.lockFor(entry.DocumentID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock: a concurrent decision may have landed.
	entry, err = q.readEntry(path)
	if err != nil {
		return nil, err
	}
	if entry.Terminal() {
		return nil, fmt.Errorf("%w: entry %s already %s", ErrConflict, entryID, entry.Status)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.Reviewer = reviewer
	entry.RejectReason = reason
	entry.DecidedAt = &now
	if entry.Document != nil {
		entry.Document.ValidationStatus = string(statusDisposition(status))
	}

	// Write the final document before persisting the decision. If the save
	// fails the on-disk entry stays pending and the approval can be retried.
	if status == StatusApproved && entry.Document != nil {
		if err := q.docs.SaveFinal(entry.Document); err != nil {
			return nil, fmt.Errorf("final save failed, entry %s left pending: %w", entryID, err)
		}
	}

	if err := q.writeEntry(entry); err != nil {
		return nil, err
	}

	q.logger.Info("validation decision recorded", "entry", entryID,
		"document", entry.DocumentID, "status", status, "reviewer", reviewer)
	return entry, nil
}

func statusDisposition(s Status) document.Disposition {
	if s == StatusApproved {
		return document.DispositionApproved
	}
	return document.DispositionRejected
}

// find locates an entry by entry id, returning it and its file path.
func (q *Queue) find(entryID string) (*Entry, string, error) {
	paths, err := filepath.Glob(filepath.Join(q.dir, "*_review.json"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan validation queue: %w", err)
	}
	for _, p := range paths {
		entry, err := q.readEntry(p)
		if err != nil {
			continue
		}
		if entry.ID == entryID {
			return entry, p, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, entryID)
}

func (q *Queue) readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse queue entry %s: %w", path, err)
	}
	return &entry, nil
}

func (q *Queue) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	path := q.entryPath(entry.DocumentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write queue entry: %w", err)
	}
	return os.Rename(tmp, path)
}
