package ledger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"pe_ingest/pkg/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestRegisterDedupByContentHash(t *testing.T) {
	dir := t.TempDir()
	pa := writeFile(t, dir, "a.pdf", "identical content")
	pb := writeFile(t, dir, "b.pdf", "identical content")

	l := New(3)
	recA, err := l.Register(pa)
	if err != nil {
		t.Fatalf("Register a: %v", err)
	}
	recB, err := l.Register(pb)
	if err != nil {
		t.Fatalf("Register b: %v", err)
	}

	if recA.ContentHash != recB.ContentHash {
		t.Fatalf("expected same content hash, got %s vs %s", recA.ContentHash, recB.ContentHash)
	}
	if recA != recB {
		t.Fatalf("expected identical FileRecord pointer for identical content")
	}
	if recA.State != model.StateDiscovered {
		t.Errorf("expected Discovered state, got %s", recA.State)
	}
}

func TestConcurrentRegisterReturnsOneRecord(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.pdf", "concurrent content")

	l := New(3)
	const n = 50
	recs := make([]*model.FileRecord, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rec, err := l.Register(p)
			if err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			recs[idx] = rec
		}(i)
	}
	wg.Wait()

	first := recs[0]
	for i, r := range recs {
		if r != first {
			t.Fatalf("record %d differs from first: %p vs %p", i, r, first)
		}
	}
}

func TestHashCachedForUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "cache.pdf", "cache me")

	l := New(3)
	h1, _, _, err := l.HashFile(p)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if len(l.hashCache) != 1 {
		t.Fatalf("expected 1 cache entry, got %d", len(l.hashCache))
	}
	h2, _, _, err := l.HashFile(p)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash changed across calls: %s vs %s", h1, h2)
	}
	if len(l.hashCache) != 1 {
		t.Fatalf("expected hash to be served from cache, got %d entries", len(l.hashCache))
	}
}

func TestStateMachineHappyPath(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "happy.pdf", "happy path content")

	l := New(3)
	rec, _ := l.Register(p)
	hash := rec.ContentHash

	steps := []struct{ from, to model.FileState }{
		{model.StateDiscovered, model.StateQueued},
		{model.StateQueued, model.StateParsing},
		{model.StateParsing, model.StateExtracting},
		{model.StateExtracting, model.StatePersisted},
		{model.StatePersisted, model.StateEmbedded},
	}
	for _, s := range steps {
		if err := l.Transition(hash, s.from, s.to, nil); err != nil {
			t.Fatalf("transition %s->%s: %v", s.from, s.to, err)
		}
	}

	rec, _ = l.Lookup(hash)
	if rec.State != model.StateEmbedded {
		t.Errorf("final state = %s, want Embedded", rec.State)
	}
}

func TestTransitionConflictOnStaleFrom(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "conflict.pdf", "conflict content")

	l := New(3)
	rec, _ := l.Register(p)
	hash := rec.ContentHash

	if err := l.Transition(hash, model.StateDiscovered, model.StateQueued, nil); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Caller still believes we're at Discovered; someone else already moved on.
	err := l.Transition(hash, model.StateDiscovered, model.StateQueued, nil)
	if err == nil {
		t.Fatalf("expected CAS conflict error")
	}
	var conflict *ErrConflict
	if ce, ok := err.(*ErrConflict); ok {
		conflict = ce
	}
	if conflict == nil {
		t.Fatalf("expected *ErrConflict, got %T", err)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "illegal.pdf", "illegal edge content")

	l := New(3)
	rec, _ := l.Register(p)
	hash := rec.ContentHash

	err := l.Transition(hash, model.StateDiscovered, model.StateEmbedded, nil)
	if err == nil {
		t.Fatalf("expected illegal-transition error")
	}
}

func TestFailedBecomesTerminalAfterMaxAttempts(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "retry.pdf", "retry content")

	l := New(2)
	rec, _ := l.Register(p)
	hash := rec.ContentHash

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(l.Transition(hash, model.StateDiscovered, model.StateQueued, nil))
	must(l.Transition(hash, model.StateQueued, model.StateParsing, nil))
	must(l.Transition(hash, model.StateParsing, model.StateFailed, nil))

	if l.CanRetry(hash) {
		must(l.Reset(hash))
		must(l.Transition(hash, model.StateQueued, model.StateParsing, nil))
		must(l.Transition(hash, model.StateParsing, model.StateFailed, nil))
	}

	if l.CanRetry(hash) {
		t.Fatalf("expected max_attempts exhausted, CanRetry should be false")
	}

	rec, _ = l.Lookup(hash)
	if rec.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", rec.Attempts)
	}
	if rec.State != model.StateFailed {
		t.Errorf("State = %s, want Failed (terminal)", rec.State)
	}
}

func TestResetRequiresFailedState(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "reset.pdf", "reset content")

	l := New(3)
	rec, _ := l.Register(p)

	if err := l.Reset(rec.ContentHash); err == nil {
		t.Fatalf("expected error resetting a non-Failed record")
	}
}

func TestStatsByState(t *testing.T) {
	dir := t.TempDir()
	l := New(3)

	p1 := writeFile(t, dir, "one.pdf", "one")
	p2 := writeFile(t, dir, "two.pdf", "two")
	r1, _ := l.Register(p1)
	_, _ = l.Register(p2)

	if err := l.Transition(r1.ContentHash, model.StateDiscovered, model.StateQueued, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}

	stats := l.StatsByState()
	if stats[model.StateDiscovered] != 1 {
		t.Errorf("Discovered count = %d, want 1", stats[model.StateDiscovered])
	}
	if stats[model.StateQueued] != 1 {
		t.Errorf("Queued count = %d, want 1", stats[model.StateQueued])
	}
}

func TestEmbeddingRetryCandidates(t *testing.T) {
	dir := t.TempDir()
	l := New(3)
	p := writeFile(t, dir, "embed.pdf", "embed content")
	rec, _ := l.Register(p)
	hash := rec.ContentHash

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected: %v", err)
		}
	}
	must(l.Transition(hash, model.StateDiscovered, model.StateQueued, nil))
	must(l.Transition(hash, model.StateQueued, model.StateParsing, nil))
	must(l.Transition(hash, model.StateParsing, model.StateExtracting, nil))
	must(l.Transition(hash, model.StateExtracting, model.StatePersisted, nil))
	must(l.SetEmbeddingStatus(hash, model.EmbeddingFailed, "vector store timeout"))

	candidates := l.EmbeddingRetryCandidates()
	if len(candidates) != 1 {
		t.Fatalf("expected 1 retry candidate, got %d", len(candidates))
	}
	if candidates[0].ContentHash != hash {
		t.Errorf("unexpected candidate hash %s", candidates[0].ContentHash)
	}
}
