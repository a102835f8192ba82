package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pe_ingest/pkg/config"
	"pe_ingest/pkg/model"
)

// Rescan walks rootPath (or every configured root, when rootPath is
// empty) and runs ProcessFile on every eligible file, per §6's Rescan
// operation. Unlike Discovery's cron sweep this runs to completion
// synchronously, bounded by ParserWorkers concurrency, and reports exact
// counts rather than just enqueueing.
func (p *Pipeline) Rescan(ctx context.Context, rootPath string) (queued, skipped int, err error) {
	roots := p.cfg.Roots
	if rootPath != "" {
		roots = nil
		for _, r := range p.cfg.Roots {
			if r.Path == rootPath || strings.HasPrefix(rootPath, r.Path) {
				roots = append(roots, r)
			}
		}
		if len(roots) == 0 {
			roots = []config.Root{{Path: rootPath}}
		}
	}

	exts := make(map[string]bool, len(p.cfg.SupportedExtensions))
	for _, e := range p.cfg.SupportedExtensions {
		exts[strings.ToLower(e)] = true
	}
	maxSize := int64(p.cfg.MaxFileSizeMB) * 1024 * 1024

	workers := p.cfg.ParserWorkers
	if workers <= 0 {
		workers = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)

	var mu sync.Mutex

	for _, root := range roots {
		root := root
		walkErr := filepath.WalkDir(root.Path, func(path string, entry os.DirEntry, walkErr error) error {
			if walkErr != nil || entry.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !exts[ext] {
				return nil
			}
			fi, statErr := os.Stat(path)
			if statErr != nil || fi.Size() > maxSize {
				return nil
			}

			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				result, perr := p.ProcessFile(gctx, path, root.InvestorCode, false)
				mu.Lock()
				defer mu.Unlock()
				if perr != nil {
					return nil
				}
				if result.Status == "already_processed" || result.Status == "in_progress" {
					skipped++
				} else {
					queued++
				}
				return nil
			})
			return nil
		})
		if walkErr != nil {
			p.log.WithError(walkErr).Warnf("rescan: walk of %s failed", root.Path)
		}
	}

	if waitErr := g.Wait(); waitErr != nil {
		return queued, skipped, waitErr
	}
	return queued, skipped, nil
}

// Reconcile runs the ReconciliationEngine on demand for (fundRef,
// asOfDate), per §6. An empty scope runs all four checks.
func (p *Pipeline) Reconcile(ctx context.Context, fundRef string, asOfDate time.Time, scope []model.ReconciliationType) ([]model.ReconciliationFinding, error) {
	input, err := p.assembleReconcileInput(ctx, fundRef, asOfDate)
	if err != nil {
		return nil, err
	}
	return p.reconciler.Run(ctx, input, scope)
}

// GetStatus reports the ledger's state distribution and the depth of
// whatever WorkItem channel Run is currently draining, per §6.
func (p *Pipeline) GetStatus() StatusReport {
	depth := 0
	p.chMu.Lock()
	if p.items != nil {
		depth = len(p.items)
	}
	p.chMu.Unlock()

	return StatusReport{
		LedgerStates: p.led.StatsByState(),
		QueueDepth:   depth,
	}
}
