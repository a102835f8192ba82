// Package queue implements the Debouncer/Queue component: it coalesces
// rapid DiscoveryEvents into a single WorkItem per settled path, consults
// the FileLedger before enqueueing to skip already-processed content, and
// applies backpressure to the upstream Discovery sweep when the bounded
// work channel fills up.
package queue

import (
	"context"
	"os"
	"sync"
	"time"

	"pe_ingest/pkg/core/discovery"
	"pe_ingest/pkg/core/ledger"
	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
)

// WorkItem is one settled unit of work ready for the Parser stage. Hash
// may be empty; the Ledger computes it lazily if so.
type WorkItem struct {
	Path    string
	Hash    string
	Attempt int
}

// sweepPauser is the subset of discovery.Discovery the Debouncer needs to
// apply backpressure; modeled as an interface so tests can substitute a
// fake.
type sweepPauser interface {
	Pause()
	Resume()
}

// Debouncer owns one timer per in-flight path and the bounded outbound
// work channel.
type Debouncer struct {
	window   time.Duration
	capacity int

	ledger  *ledger.Ledger
	sweep   sweepPauser
	log     *logging.Logger
	metrics *metricsreg.Registry

	mu     sync.Mutex
	timers map[string]*time.Timer

	work chan WorkItem
}

// New constructs a Debouncer. window is the per-path debounce delay
// (default 5s); capacity is the bounded work channel size (default 1024).
func New(window time.Duration, capacity int, led *ledger.Ledger, sweep sweepPauser, log *logging.Logger, metrics *metricsreg.Registry) *Debouncer {
	if window <= 0 {
		window = 5 * time.Second
	}
	if capacity <= 0 {
		capacity = 1024
	}
	return &Debouncer{
		window:   window,
		capacity: capacity,
		ledger:   led,
		sweep:    sweep,
		log:      log.WithStage("debounce"),
		metrics:  metrics,
		timers:   make(map[string]*time.Timer),
		work:     make(chan WorkItem, capacity),
	}
}

// Work returns the bounded outbound channel of settled WorkItems.
func (d *Debouncer) Work() <-chan WorkItem {
	return d.work
}

// Run consumes the Discovery event stream until ctx is cancelled or the
// stream closes.
func (d *Debouncer) Run(ctx context.Context, events <-chan discovery.DiscoveryEvent) {
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			for _, timer := range d.timers {
				timer.Stop()
			}
			d.mu.Unlock()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handle(ctx, ev)
		}
	}
}

// handle resets the per-path debounce timer on every new event for a path
// already in-window; the timer fires exactly once per settled window.
func (d *Debouncer) handle(ctx context.Context, ev discovery.DiscoveryEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.timers[ev.Path]; ok {
		existing.Stop()
		d.metrics.DebounceCoalesced.Inc()
	}

	d.timers[ev.Path] = time.AfterFunc(d.window, func() {
		d.settle(ctx, ev.Path)
	})
}

// settle runs after the debounce window expires for a path: it checks the
// FileLedger for an already-terminal, matching record (Skipped) and
// otherwise enqueues a WorkItem, applying backpressure to Discovery.Sweep
// if the work channel is full.
func (d *Debouncer) settle(ctx context.Context, path string) {
	d.mu.Lock()
	delete(d.timers, path)
	d.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		// File vanished between event and settle; nothing to enqueue.
		return
	}

	if rec := d.matchingTerminalRecord(path); rec != nil {
		d.log.Infof("skip dup for %s: matches terminal record in state %s", path, rec.State)
		d.metrics.SkippedDuplicate.Inc()
		return
	}

	item := WorkItem{Path: path}

	select {
	case d.work <- item:
		d.metrics.QueueDepth.Set(float64(len(d.work)))
		return
	default:
	}

	// Channel full: pause Sweep, block until a slot opens or ctx ends.
	d.sweep.Pause()
	defer d.sweep.Resume()

	select {
	case d.work <- item:
		d.metrics.QueueDepth.Set(float64(len(d.work)))
	case <-ctx.Done():
	}
}

// matchingTerminalRecord gets the path's content hash from the ledger
// (which reuses its cached hash for an unchanged (path, size, mtime)) and
// returns the record for that hash only when its size and mtime match and
// its state is terminal.
func (d *Debouncer) matchingTerminalRecord(path string) *model.FileRecord {
	hash, size, mtime, err := d.ledger.HashFile(path)
	if err != nil {
		return nil
	}
	rec, ok := d.ledger.Lookup(hash)
	if !ok {
		return nil
	}
	if rec.Size != size || !rec.MTime.Equal(mtime) {
		return nil
	}
	switch rec.State {
	case model.StateDiscovered, model.StateQueued, model.StateParsing, model.StateExtracting, model.StateFailed:
		return nil // not terminal; allow (re)enqueue
	default:
		return rec
	}
}
