// Package pipeline wires FileLedger, Parser, Classifier, ExtractorChain,
// Resolver, PersistenceWriter, IndexerWorker, and ReconciliationEngine
// into the DAG described by §5: Discovery -> Debouncer -> WorkQueue ->
// ParserPool -> ExtractorPool -> PersistenceWriter -> IndexerPool, with a
// ReconciliationEngine trigger fanning off every successful persist. It
// exposes the four operations named in §6: ProcessFile, Rescan, Reconcile,
// GetStatus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pe_ingest/pkg/config"
	"pe_ingest/pkg/core/classifier"
	"pe_ingest/pkg/core/extract"
	"pe_ingest/pkg/core/indexer"
	"pe_ingest/pkg/core/ledger"
	"pe_ingest/pkg/core/llm"
	"pe_ingest/pkg/core/parser"
	"pe_ingest/pkg/core/persistence"
	"pe_ingest/pkg/core/queue"
	"pe_ingest/pkg/core/reconcile"
	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
	"pe_ingest/pkg/pkgerrors"
)

// writer is the subset of *persistence.Writer the pipeline needs; modeled
// as an interface so tests can substitute a fake and avoid a live
// database.
type writer interface {
	Persist(ctx context.Context, dw persistence.DocumentWrite) (investorRef, fundRef string, err error)
}

// reader is the subset of *persistence.Reader the pipeline needs for fund
// resolution and reconciliation input assembly.
type reader interface {
	InvestorByCode(ctx context.Context, code string) (model.Investor, bool, error)
	FundsForInvestor(ctx context.Context, investorRef string) ([]model.Fund, error)
	ExistingFundCodes(ctx context.Context, investorRef string) (map[string]bool, error)
	NAVSourcesFor(ctx context.Context, fundRef string, asOfDate time.Time) ([]reconcile.NAVSource, error)
	RecentCashflowPeriods(ctx context.Context, fundRef string, n int) ([]reconcile.PeriodCashflow, error)
	CashflowEventsFor(ctx context.Context, fundRef string) ([]reconcile.CashflowEvent, error)
	PerformanceInputFor(ctx context.Context, fundRef string, asOfDate time.Time) (reconcile.PerformanceInput, error)
	CommitmentRowsFor(ctx context.Context, fundRef string, asOfDate time.Time) ([]reconcile.CommitmentRow, error)
}

// indexerWorker is the subset of *indexer.Worker the pipeline needs.
type indexerWorker interface {
	Index(ctx context.Context, hash string, input indexer.ChunkInput)
}

// ProcessResult is ProcessFile's return value, per §6.
type ProcessResult struct {
	DocID          string
	Status         string
	Confidence     float64
	FindingsCount  int
}

// StatusReport is GetStatus's return value, per §6.
type StatusReport struct {
	LedgerStates map[model.FileState]int
	QueueDepth   int
	Backlog      int
}

// Pipeline holds every component constructor-injected per §9's redesign
// away from global singletons.
type Pipeline struct {
	cfg config.Config

	log     *logging.Logger
	metrics *metricsreg.Registry

	led        *ledger.Ledger
	parsers    *parser.Registry
	classifier *classifier.Classifier
	chain      *extract.Chain
	writer     writer
	reader     reader
	indexer    indexerWorker
	reconciler *reconcile.Engine

	reconSem chan struct{}

	chMu  sync.Mutex
	items <-chan queue.WorkItem
}

// New builds a Pipeline from its already-constructed dependencies.
func New(cfg config.Config, log *logging.Logger, metrics *metricsreg.Registry, led *ledger.Ledger,
	parsers *parser.Registry, cls *classifier.Classifier, chain *extract.Chain,
	w writer, r reader, idx indexerWorker, recon *reconcile.Engine) *Pipeline {
	reconWorkers := cfg.ReconciliationWorkers
	if reconWorkers <= 0 {
		reconWorkers = 2
	}
	return &Pipeline{
		cfg:        cfg,
		log:        log.WithStage("pipeline"),
		metrics:    metrics,
		led:        led,
		parsers:    parsers,
		classifier: cls,
		chain:      chain,
		writer:     w,
		reader:     r,
		indexer:    idx,
		reconciler: recon,
		reconSem:   make(chan struct{}, reconWorkers),
	}
}

// Run consumes the Debouncer's settled WorkItems with a bounded pool of
// ParserWorkers/ExtractorWorkers (the two stages share one pool per §5's
// "ParserPool -> ExtractorPool" being a single serialized-per-doc chain),
// re-deriving investor_code from the path prefix since queue.WorkItem
// does not carry it (only Discovery's original event does).
func (p *Pipeline) Run(ctx context.Context, items <-chan queue.WorkItem) error {
	p.chMu.Lock()
	p.items = items
	p.chMu.Unlock()

	workers := p.cfg.ParserWorkers
	if workers <= 0 {
		workers = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case item, ok := <-items:
			if !ok {
				return g.Wait()
			}
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				investorCode := p.investorCodeForPath(item.Path)
				if _, err := p.ProcessFile(gctx, item.Path, investorCode, false); err != nil {
					p.log.WithError(err).Warnf("process %s failed", item.Path)
				}
				return nil
			})
		}
	}
}

func (p *Pipeline) investorCodeForPath(path string) string {
	for _, root := range p.cfg.Roots {
		if strings.HasPrefix(path, root.Path) {
			return root.InvestorCode
		}
	}
	return ""
}

// ProcessFile runs the full C1-C9 chain for one file, per §6. force
// bypasses the already-processed short-circuit and reprocesses content
// that already reached a terminal ledger state, appending new FieldAudit
// rows rather than replacing them, per §9's resolution of the force-
// reprocess open question.
func (p *Pipeline) ProcessFile(ctx context.Context, path, investorCode string, force bool) (ProcessResult, error) {
	rec, err := p.led.Register(path)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("pipeline: register %s: %w", path, err)
	}
	docID := rec.ContentHash[:16]
	hash := rec.ContentHash

	switch rec.State {
	case model.StatePersisted, model.StateEmbedded, model.StateSkipped:
		if !force {
			return ProcessResult{DocID: docID, Status: "already_processed"}, nil
		}
		if err := p.led.ForceRequeue(hash); err != nil {
			return ProcessResult{}, err
		}
	case model.StateFailed:
		if !force && !p.led.CanRetry(hash) {
			return ProcessResult{DocID: docID, Status: "failed"}, nil
		}
		if err := p.led.ForceRequeue(hash); err != nil {
			return ProcessResult{}, err
		}
	case model.StateDiscovered:
		if err := p.led.Transition(hash, model.StateDiscovered, model.StateQueued, nil); err != nil {
			return ProcessResult{}, err
		}
	case model.StateQueued:
		// already queued by a concurrent caller; proceed, CAS on the next
		// transition will surface a conflict if another worker won the race.
	default:
		// Parsing/Extracting: another attempt is in flight for this hash.
		return ProcessResult{DocID: docID, Status: "in_progress"}, nil
	}

	result, err := p.runStages(ctx, hash, docID, path, investorCode)
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicateDocument) {
			return ProcessResult{DocID: docID, Status: "already_processed"}, nil
		}
		return ProcessResult{DocID: docID, Status: "failed"}, nil
	}
	return result, nil
}

// runStages drives Parsing -> Extracting -> Persisted, then fires the
// IndexerWorker and ReconciliationEngine triggers.
func (p *Pipeline) runStages(ctx context.Context, hash, docID, path, investorCode string) (ProcessResult, error) {
	if err := p.led.Transition(hash, model.StateQueued, model.StateParsing, nil); err != nil {
		return ProcessResult{}, err
	}

	doc, _, err := p.parse(ctx, path)
	if err != nil {
		p.failDoc(hash, model.StateParsing, err)
		return ProcessResult{}, err
	}

	if err := p.led.Transition(hash, model.StateParsing, model.StateExtracting, nil); err != nil {
		return ProcessResult{}, err
	}

	filename := filepath.Base(path)

	classifyCtx, classifyCancel := llm.WithTimeout(ctx, p.stageDeadline(p.cfg.LLM.ClassifyTimeout, 45*time.Second))
	clsResult := p.classifier.Classify(classifyCtx, filename, doc.ExcerptPages(3))
	classifyCancel()

	extractCtx, extractCancel := llm.WithTimeout(ctx, p.stageDeadline(p.cfg.LLM.ExtractTimeout, 45*time.Second))
	extraction := p.chain.Extract(extractCtx, clsResult.DocType, docID, doc, filename)
	extractCancel()

	dw, investorRef, fundRef, err := p.buildDocumentWrite(ctx, docID, path, investorCode, clsResult, extraction)
	if err != nil {
		p.failDoc(hash, model.StateExtracting, err)
		return ProcessResult{}, err
	}

	persistCtx, persistCancel := context.WithTimeout(ctx, p.stageDeadline(p.cfg.PersistDeadline, 30*time.Second))
	_, _, perr := p.writer.Persist(persistCtx, dw)
	persistCancel()
	if perr != nil {
		if errors.Is(perr, persistence.ErrDuplicateDocument) {
			if terr := p.led.Transition(hash, model.StateExtracting, model.StateSkipped, nil); terr != nil {
				p.log.WithError(terr).Warnf("transition to skipped failed for %s", docID)
			}
			return ProcessResult{}, pkgerrors.Wrap(pkgerrors.PersistenceConflict, docID, "duplicate doc_id", perr)
		}
		p.failDoc(hash, model.StateExtracting, perr)
		return ProcessResult{}, perr
	}

	if err := p.led.Transition(hash, model.StateExtracting, model.StatePersisted, nil); err != nil {
		return ProcessResult{}, err
	}

	p.indexIfApplicable(hash, docID, investorRef, fundRef, clsResult, extraction, dw)

	findingsCount := p.triggerReconcileIfApplicable(ctx, fundRef, extraction.AsOfDate)

	return ProcessResult{
		DocID:         docID,
		Status:        "persisted",
		Confidence:    extraction.OverallConfidence,
		FindingsCount: findingsCount,
	}, nil
}

// stageDeadline applies fallback if the configured duration is unset, per
// §5's per-stage default deadlines.
func (p *Pipeline) stageDeadline(configured, fallback time.Duration) time.Duration {
	if configured <= 0 {
		return fallback
	}
	return configured
}

func (p *Pipeline) failDoc(hash string, from model.FileState, err error) {
	kind := pkgerrors.KindOf(err)
	if terr := p.led.Transition(hash, from, model.StateFailed, func(rec *model.FileRecord) {
		rec.Error = err.Error()
	}); terr != nil {
		p.log.WithError(terr).Warnf("transition to failed errored (kind=%s)", kind)
	}
}
