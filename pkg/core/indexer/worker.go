// Package indexer implements the IndexerWorker (C9): it builds text
// chunks from a persisted Document and hands them to the VectorIndex
// capability, bounded-concurrent and non-fatal on failure.
package indexer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pe_ingest/pkg/core/ledger"
	"pe_ingest/pkg/core/vectorindex"
	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
)

const (
	maxEmbeddingAttempts = 5
	retryBaseDelay       = 30 * time.Second
)

// Worker is the IndexerWorker. It is constructor-injected with the
// VectorIndex capability and the FileLedger rather than reaching for a
// global, per §9's redesign guidance against service singletons.
type Worker struct {
	index   vectorindex.VectorIndex
	ledger  *ledger.Ledger
	metrics *metricsreg.Registry
	log     *logging.Logger

	sem chan struct{}

	mu      sync.Mutex
	pending map[string]*pendingEntry // content hash -> retry bookkeeping
}

type pendingEntry struct {
	input       ChunkInput
	attempts    int
	lastAttempt time.Time
}

// New builds a Worker with the given bounded concurrency (default 4).
func New(index vectorindex.VectorIndex, led *ledger.Ledger, metrics *metricsreg.Registry, log *logging.Logger, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		index:   index,
		ledger:  led,
		metrics: metrics,
		log:     log.WithStage("index"),
		sem:     make(chan struct{}, concurrency),
		pending: make(map[string]*pendingEntry),
	}
}

// Index builds and uploads the chunks for one document's first attempt.
// It never returns an error to the caller: a failure is recorded on the
// ledger as embedding_status=Failed and the document stays Persisted, per
// §4.9's "failure to index is non-fatal to persistence".
func (w *Worker) Index(ctx context.Context, hash string, input ChunkInput) {
	w.mu.Lock()
	w.pending[hash] = &pendingEntry{input: input, attempts: 1, lastAttempt: time.Now()}
	w.mu.Unlock()

	err := w.attempt(ctx, input)
	if err != nil {
		w.log.WithDoc(input.DocID).WithError(err).Warnf("initial embedding attempt failed, queued for retry")
		w.ledger.SetEmbeddingStatus(hash, model.EmbeddingFailed, err.Error())
		return
	}

	w.finishSuccess(hash, input)
}

func (w *Worker) attempt(ctx context.Context, input ChunkInput) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.sem }()

	chunks := BuildChunks(input)
	if len(chunks) == 0 {
		return nil
	}
	_, err := w.index.AddChunks(ctx, input.DocID, chunks)
	return err
}

func (w *Worker) finishSuccess(hash string, input ChunkInput) {
	w.ledger.SetEmbeddingStatus(hash, model.EmbeddingOK, "")
	if err := w.ledger.Transition(hash, model.StatePersisted, model.StateEmbedded, nil); err != nil {
		w.log.WithDoc(input.DocID).WithError(err).Warnf("embedded but ledger transition failed")
	}
	w.mu.Lock()
	delete(w.pending, hash)
	w.mu.Unlock()
}

// RetrySweep scans the ledger for Persisted+Failed records and retries
// each whose backoff window has elapsed, up to maxEmbeddingAttempts, using
// the same bounded-concurrency pool as Index. Candidates this worker has
// no pending bookkeeping for (e.g. after a process restart) are skipped:
// there is no durable chunk-input store, so a cold retry sweep can only
// act on documents indexed at least once in this process's lifetime.
func (w *Worker) RetrySweep(ctx context.Context) error {
	candidates := w.ledger.EmbeddingRetryCandidates()

	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range candidates {
		rec := rec
		g.Go(func() error {
			w.retryOne(ctx, rec.ContentHash)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) retryOne(ctx context.Context, hash string) {
	w.mu.Lock()
	entry, ok := w.pending[hash]
	if !ok {
		w.mu.Unlock()
		return
	}
	if entry.attempts >= maxEmbeddingAttempts {
		w.mu.Unlock()
		return
	}
	if time.Since(entry.lastAttempt) < backoffDelay(entry.attempts) {
		w.mu.Unlock()
		return
	}
	entry.attempts++
	entry.lastAttempt = time.Now()
	input := entry.input
	attempts := entry.attempts
	w.mu.Unlock()

	w.metrics.IndexRetries.Inc()
	err := w.attempt(ctx, input)
	if err == nil {
		w.finishSuccess(hash, input)
		return
	}

	w.ledger.SetEmbeddingStatus(hash, model.EmbeddingFailed, err.Error())
	if attempts >= maxEmbeddingAttempts {
		w.metrics.IndexFailures.Inc()
		w.log.WithDoc(input.DocID).WithError(err).Errorf("embedding exhausted all retry attempts")
	}
}

// backoffDelay doubles the base delay per attempt already made, capped at
// 8x the base so the sweep interval bounds total wait time.
func backoffDelay(attemptsSoFar int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < attemptsSoFar && i < 4; i++ {
		d *= 2
	}
	return d
}
