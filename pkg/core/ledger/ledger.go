// Package ledger implements the FileLedger: the single source of truth for
// "have we already processed this content?" and the CAS state machine that
// serializes transitions for a given file's content hash.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"pe_ingest/pkg/model"
)

// hashCacheKey identifies a (path, mtime, size) tuple so the SHA-256 is
// computed exactly once per unchanged file, per spec.
type hashCacheKey struct {
	path  string
	mtime int64
	size  int64
}

// Ledger is the FileLedger. It is process-wide state by design (see
// spec's exception for FileLedger + metrics registry as the only allowed
// globals) — but it is still constructor-injected, never a package-level
// singleton.
type Ledger struct {
	mu sync.Mutex

	// byHash holds one FileRecord per distinct content hash currently
	// known to the ledger, keyed by ContentHash.
	byHash map[string]*model.FileRecord

	// hashCache avoids re-hashing unchanged files.
	hashCache map[hashCacheKey]string

	maxAttempts int
}

// New constructs an empty Ledger. maxAttempts is the configured
// max_attempts (default 3) after which Failed becomes terminal until an
// operator Reset.
func New(maxAttempts int) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Ledger{
		byHash:      make(map[string]*model.FileRecord),
		hashCache:   make(map[hashCacheKey]string),
		maxAttempts: maxAttempts,
	}
}

// HashFile computes the streaming SHA-256 of path, consulting the
// (path, mtime, size) cache first so an unchanged file is never re-hashed.
func (l *Ledger) HashFile(path string) (hash string, size int64, mtime time.Time, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("ledger: stat %s: %w", path, err)
	}
	size = fi.Size()
	mtime = fi.ModTime()

	key := hashCacheKey{path: path, mtime: mtime.UnixNano(), size: size}

	l.mu.Lock()
	if cached, ok := l.hashCache[key]; ok {
		l.mu.Unlock()
		return cached, size, mtime, nil
	}
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, time.Time{}, fmt.Errorf("ledger: hashing %s: %w", path, err)
	}
	hash = hex.EncodeToString(h.Sum(nil))

	l.mu.Lock()
	l.hashCache[key] = hash
	l.mu.Unlock()

	return hash, size, mtime, nil
}

// Register computes the content hash for path and inserts a new
// FileRecord, or returns the existing one for identical content. Two
// concurrent Registers on identical content return the same FileRecord;
// the loser observes the Discovered state already present (or whatever
// later state the winner has already advanced to).
func (l *Ledger) Register(path string) (*model.FileRecord, error) {
	hash, size, mtime, err := l.HashFile(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.byHash[hash]; ok {
		return rec, nil
	}

	rec := &model.FileRecord{
		Path:         path,
		ContentHash:  hash,
		Size:         size,
		MTime:        mtime,
		DiscoveredAt: time.Now(),
		State:        model.StateDiscovered,
		Embedding:    model.EmbeddingPending,
		UpdatedAt:    time.Now(),
	}
	l.byHash[hash] = rec
	return rec, nil
}

// Lookup returns the FileRecord for hash, if any.
func (l *Ledger) Lookup(hash string) (*model.FileRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byHash[hash]
	return rec, ok
}

// transitionTable enumerates every legal (from, to) edge in the state
// machine. The backward edges are the Failed->Queued retry edge and the
// Queued/Parsing/Extracting->Queued edges for a stage cancelled with no
// partial write.
var transitionTable = map[model.FileState]map[model.FileState]bool{
	model.StateDiscovered: {model.StateQueued: true, model.StateSkipped: true},
	model.StateQueued:     {model.StateParsing: true, model.StateSkipped: true, model.StateQueued: true},
	model.StateParsing:    {model.StateExtracting: true, model.StateFailed: true, model.StateQueued: true},
	model.StateExtracting: {model.StatePersisted: true, model.StateFailed: true, model.StateQueued: true, model.StateSkipped: true},
	model.StatePersisted:  {model.StateEmbedded: true},
	model.StateEmbedded:   {},
	model.StateFailed:     {model.StateQueued: true},
	model.StateSkipped:    {},
}

// ErrConflict is returned by Transition when the record's current state
// does not match the expected "from" state (a concurrent transition won
// the race) or when the edge is not legal in the state machine.
type ErrConflict struct {
	Hash    string
	Want    model.FileState
	Got     model.FileState
	To      model.FileState
	Illegal bool
}

func (e *ErrConflict) Error() string {
	if e.Illegal {
		return fmt.Sprintf("ledger: illegal transition %s -> %s for %s", e.Want, e.To, e.Hash)
	}
	return fmt.Sprintf("ledger: CAS conflict for %s: expected state %s, found %s", e.Hash, e.Want, e.Got)
}

// Transition performs an atomic compare-and-swap on a FileRecord's state.
// meta allows the caller to set Error/Attempts/Embedding alongside the
// state change within the same critical section. On cancellation mid-stage
// with no partial write, callers pass StateQueued as "to" and leave
// Attempts untouched (see §5).
func (l *Ledger) Transition(hash string, from, to model.FileState, meta func(*model.FileRecord)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byHash[hash]
	if !ok {
		return fmt.Errorf("ledger: unknown content hash %s", hash)
	}

	if rec.State != from {
		return &ErrConflict{Hash: hash, Want: from, Got: rec.State, To: to}
	}

	edges, ok := transitionTable[from]
	if !ok || !edges[to] {
		return &ErrConflict{Hash: hash, Want: from, Got: rec.State, To: to, Illegal: true}
	}

	if from == model.StateFailed && to == model.StateQueued && rec.Attempts >= l.maxAttempts {
		// Terminal Failed: stays Failed until operator Reset once
		// max_attempts is exhausted.
		return &ErrConflict{Hash: hash, Want: from, Got: rec.State, To: to, Illegal: true}
	}

	if to == model.StateFailed {
		rec.Attempts++
	}

	rec.State = to
	rec.UpdatedAt = time.Now()
	if meta != nil {
		meta(rec)
	}
	return nil
}

// CanRetry reports whether a Failed record has not yet exhausted
// max_attempts (i.e. an automatic retry, as opposed to operator Reset, is
// still permitted).
func (l *Ledger) CanRetry(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byHash[hash]
	if !ok {
		return false
	}
	return rec.State == model.StateFailed && rec.Attempts < l.maxAttempts
}

// Reset transitions a terminal Failed record back to Queued regardless of
// attempts exhaustion — the explicit operator escape hatch.
func (l *Ledger) Reset(hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byHash[hash]
	if !ok {
		return fmt.Errorf("ledger: unknown content hash %s", hash)
	}
	if rec.State != model.StateFailed {
		return &ErrConflict{Hash: hash, Want: model.StateFailed, Got: rec.State, To: model.StateQueued}
	}
	rec.State = model.StateQueued
	rec.UpdatedAt = time.Now()
	return nil
}

// ForceRequeue moves a record to Queued from any state, for
// ProcessFile(force=true) reprocessing content that already reached a
// terminal state. Unlike Reset, the source state need not be Failed.
func (l *Ledger) ForceRequeue(hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byHash[hash]
	if !ok {
		return fmt.Errorf("ledger: unknown content hash %s", hash)
	}
	rec.State = model.StateQueued
	rec.UpdatedAt = time.Now()
	return nil
}

// SetEmbeddingStatus records IndexerWorker outcome without moving the
// primary FileState (a document can be Persisted with Embedding=Failed).
func (l *Ledger) SetEmbeddingStatus(hash string, status model.EmbeddingStatus, errStr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byHash[hash]
	if !ok {
		return fmt.Errorf("ledger: unknown content hash %s", hash)
	}
	rec.Embedding = status
	rec.EmbeddingErr = errStr
	rec.UpdatedAt = time.Now()
	return nil
}

// StatsByState returns the current count of FileRecords in each state.
func (l *Ledger) StatsByState() map[model.FileState]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := make(map[model.FileState]int)
	for _, rec := range l.byHash {
		stats[rec.State]++
	}
	return stats
}

// EmbeddingRetryCandidates returns records in Persisted state whose
// embedding failed, for the IndexerWorker's background retry sweep.
func (l *Ledger) EmbeddingRetryCandidates() []*model.FileRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*model.FileRecord
	for _, rec := range l.byHash {
		if rec.State == model.StatePersisted && rec.Embedding == model.EmbeddingFailed {
			out = append(out, rec)
		}
	}
	return out
}
