// Package repository persists picking state on the device: the
// in-progress manifest, the in-picking flag that gates restoration, the
// offline action queue and the audit log. Each record lives under its
// own Badger key so corruption of one never affects the others.
package repository

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/binho-transportes/picking/manifest"
)

// Store error codes.
const (
	CodeStorageError  = "STORAGE_ERROR"
	CodeCorruptRecord = "CORRUPT_RECORD"
	CodeEncodingError = "ENCODING_ERROR"
)

// StoreError represents an error in the persistence layer.
type StoreError struct {
	Code    string
	Message string
	Detail  string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// Logical record keys. One key per record, independently clearable.
var (
	keyProgress  = []byte("picking/progress")
	keyInPicking = []byte("picking/in_picking")
	keyQueue     = []byte("picking/offline_queue")
	keyAudit     = []byte("picking/audit_log")
)

// QueueEntry is one not-yet-acknowledged remote action.
type QueueEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"acao"`
	Params     map[string]any `json:"params"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// AuditEntry is one diagnostics record. Never consulted by picking
// decisions.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"tipo"`
	Payload   any       `json:"payload"`
}

// Options bound the queue and audit records.
type Options struct {
	QueueCap    int
	AuditCap    int
	AuditMaxAge time.Duration
}

// DefaultOptions mirrors the caps of the production front end.
func DefaultOptions() Options {
	return Options{
		QueueCap:    20,
		AuditCap:    50,
		AuditMaxAge: 7 * 24 * time.Hour,
	}
}

// Store is the device-local durable store. queueMu serializes the
// read-modify-write cycles on the offline queue, which run outside the
// session lock: a completion enqueued while a flush is in flight must
// never be overwritten by the flush's rewrite.
type Store struct {
	db      *badger.DB
	logger  *zap.Logger
	opts    Options
	queueMu sync.Mutex
}

// NewStore wraps an open Badger database.
func NewStore(db *badger.DB, logger *zap.Logger, opts Options) *Store {
	if opts.QueueCap <= 0 {
		opts.QueueCap = DefaultOptions().QueueCap
	}
	if opts.AuditCap <= 0 {
		opts.AuditCap = DefaultOptions().AuditCap
	}
	if opts.AuditMaxAge <= 0 {
		opts.AuditMaxAge = DefaultOptions().AuditMaxAge
	}
	return &Store{db: db, logger: logger, opts: opts}
}

// SaveProgress writes the current manifest. A nil manifest deletes the
// key entirely, which is how "no active picking" is distinguished from a
// manifest with zero lines.
func (s *Store) SaveProgress(m *manifest.Manifest) error {
	if m == nil {
		return s.delete(keyProgress)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return &StoreError{Code: CodeEncodingError, Message: "failed to encode progress", Detail: err.Error()}
	}
	return s.set(keyProgress, data)
}

// LoadProgress returns the persisted manifest, or nil when there is
// nothing restorable. Restoration requires both a parseable record and
// the in-picking flag; a corrupt record is deleted so it can never
// wedge startup. Loaded values are re-passed through the normalizer to
// guard against partially-shaped data from an older schema.
func (s *Store) LoadProgress() (*manifest.Manifest, error) {
	inPicking, err := s.InPicking()
	if err != nil {
		return nil, err
	}
	if !inPicking {
		return nil, nil
	}

	data, err := s.get(keyProgress)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	m, err := manifest.NormalizeJSON(data)
	if err != nil {
		s.logger.Warn("discarding corrupt progress record", zap.Error(err))
		if delErr := s.delete(keyProgress); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return m, nil
}

// SetInPicking marks that the operator entered the picking screen.
func (s *Store) SetInPicking() error {
	return s.set(keyInPicking, []byte("1"))
}

// ClearInPicking removes the flag, forbidding restoration.
func (s *Store) ClearInPicking() error {
	return s.delete(keyInPicking)
}

// InPicking reports whether the in-picking flag is set.
func (s *Store) InPicking() (bool, error) {
	data, err := s.get(keyInPicking)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// EnqueueAction appends an entry to the offline queue, truncating to the
// newest QueueCap entries. Oldest entries are silently dropped; bounded
// loss beats unbounded growth on a hand terminal.
func (s *Store) EnqueueAction(entry QueueEntry) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queue, err := s.Queue()
	if err != nil {
		return err
	}
	queue = append(queue, entry)
	if len(queue) > s.opts.QueueCap {
		queue = queue[len(queue)-s.opts.QueueCap:]
	}
	return s.writeQueue(queue)
}

// RemoveActions deletes the entries with the given IDs from the offline
// queue, preserving the order of the rest. Entries enqueued after the
// caller last read the queue are untouched.
func (s *Store) RemoveActions(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queue, err := s.Queue()
	if err != nil {
		return err
	}
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}
	kept := queue[:0]
	for _, entry := range queue {
		if !removed[entry.ID] {
			kept = append(kept, entry)
		}
	}
	return s.writeQueue(kept)
}

// Queue returns the offline queue in enqueue order. A corrupt queue
// record is deleted and reported empty.
func (s *Store) Queue() ([]QueueEntry, error) {
	data, err := s.get(keyQueue)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var queue []QueueEntry
	if err := json.Unmarshal(data, &queue); err != nil {
		s.logger.Warn("discarding corrupt offline queue", zap.Error(err))
		if delErr := s.delete(keyQueue); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return queue, nil
}

// ReplaceQueue overwrites the offline queue, preserving the given order.
// An empty queue deletes the key.
func (s *Store) ReplaceQueue(queue []QueueEntry) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.writeQueue(queue)
}

// writeQueue persists the queue as-is. Caller must hold queueMu.
func (s *Store) writeQueue(queue []QueueEntry) error {
	if len(queue) == 0 {
		return s.delete(keyQueue)
	}
	data, err := json.Marshal(queue)
	if err != nil {
		return &StoreError{Code: CodeEncodingError, Message: "failed to encode offline queue", Detail: err.Error()}
	}
	return s.set(keyQueue, data)
}

// AppendAudit records a diagnostics entry, dropping entries older than
// AuditMaxAge and truncating to the newest AuditCap.
func (s *Store) AppendAudit(kind string, payload any) error {
	entries, err := s.Audit()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.opts.AuditMaxAge)
	kept := entries[:0]
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}

	kept = append(kept, AuditEntry{Timestamp: time.Now(), Kind: kind, Payload: payload})
	if len(kept) > s.opts.AuditCap {
		kept = kept[len(kept)-s.opts.AuditCap:]
	}

	data, err := json.Marshal(kept)
	if err != nil {
		return &StoreError{Code: CodeEncodingError, Message: "failed to encode audit log", Detail: err.Error()}
	}
	return s.set(keyAudit, data)
}

// Audit returns the audit log, oldest first. A corrupt record is
// deleted and reported empty.
func (s *Store) Audit() ([]AuditEntry, error) {
	data, err := s.get(keyAudit)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var entries []AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("discarding corrupt audit log", zap.Error(err))
		if delErr := s.delete(keyAudit); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return entries, nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Code: CodeStorageError, Message: "failed to read " + string(key), Detail: err.Error()}
	}
	return data, nil
}

func (s *Store) set(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return &StoreError{Code: CodeStorageError, Message: "failed to write " + string(key), Detail: err.Error()}
	}
	return nil
}

func (s *Store) delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return &StoreError{Code: CodeStorageError, Message: "failed to delete " + string(key), Detail: err.Error()}
	}
	return nil
}
