// Package discovery implements the Discovery/Watcher component: it emits a
// single outbound stream of candidate file paths drawn from two always-on
// sources, a recursive Sweep (on start, and on a configurable cron) and an
// fsnotify Event subscription, pruning "!"-prefixed directories and
// dropping unsupported or oversize files with a counter increment.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
)

// Cause distinguishes why a DiscoveryEvent was emitted.
type Cause string

const (
	CauseSweep    Cause = "Sweep"
	CauseCreated  Cause = "Created"
	CauseModified Cause = "Modified"
)

// DiscoveryEvent is one candidate file observation.
type DiscoveryEvent struct {
	Path        string
	InvestorCode string
	Cause       Cause
	ObservedAt  time.Time
}

// Root is one investor folder the Discovery component watches.
type Root struct {
	Path         string
	InvestorCode string
}

// Config controls Discovery's behavior.
type Config struct {
	Roots               []Root
	SupportedExtensions map[string]bool
	MaxFileSizeBytes    int64
	CronExpr            string // empty disables the cron sweep trigger
}

// Discovery runs the Sweep and Event subsystems and multiplexes their
// output onto a single channel.
type Discovery struct {
	cfg     Config
	log     *logging.Logger
	metrics *metricsreg.Registry

	events  chan DiscoveryEvent
	watcher *fsnotify.Watcher
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// sweepPaused is set by the Debouncer via Pause/Resume when the work
	// queue is at capacity, per §4.3's backpressure contract.
	sweepPaused sync.RWMutex
	paused      bool
}

// New constructs a Discovery over cfg. It does not start watching until
// Start is called.
func New(cfg Config, log *logging.Logger, metrics *metricsreg.Registry) (*Discovery, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	d := &Discovery{
		cfg:     cfg,
		log:     log.WithStage("discovery"),
		metrics: metrics,
		events:  make(chan DiscoveryEvent, 256),
		watcher: watcher,
		ctx:     context.Background(),
	}
	return d, nil
}

// Events returns the unified outbound channel of DiscoveryEvents.
func (d *Discovery) Events() <-chan DiscoveryEvent {
	return d.events
}

// Start begins both subsystems: an initial Sweep, the fsnotify event loop,
// and (if configured) the cron-scheduled re-sweep.
func (d *Discovery) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	for _, root := range d.cfg.Roots {
		if err := d.addWatchesRecursive(root.Path); err != nil {
			d.log.WithError(err).Warnf("failed to add fsnotify watches under %s; sweep will still cover it", root.Path)
		}
	}

	d.wg.Add(1)
	go d.eventLoop()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Sweep()
	}()

	if d.cfg.CronExpr != "" {
		d.cron = cron.New()
		if _, err := d.cron.AddFunc(d.cfg.CronExpr, d.Sweep); err != nil {
			return err
		}
		d.cron.Start()
	}

	return nil
}

// Stop halts both subsystems and waits for their goroutines to exit.
func (d *Discovery) Stop() {
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.cancel != nil {
		d.cancel()
	}
	_ = d.watcher.Close()
	d.wg.Wait()
	close(d.events)
}

// Pause stops Sweep from running (Event subscriptions remain active),
// invoked by the Debouncer when the work queue is at capacity.
func (d *Discovery) Pause() {
	d.sweepPaused.Lock()
	d.paused = true
	d.sweepPaused.Unlock()
}

// Resume re-enables Sweep.
func (d *Discovery) Resume() {
	d.sweepPaused.Lock()
	d.paused = false
	d.sweepPaused.Unlock()
}

func (d *Discovery) isPaused() bool {
	d.sweepPaused.RLock()
	defer d.sweepPaused.RUnlock()
	return d.paused
}

// Sweep performs one recursive walk of every configured root, emitting a
// DiscoveryEvent for each supported, non-oversize file. An unreadable root
// is logged and skipped; it does not halt the sweep of other roots, and
// will be retried on the next cron tick.
func (d *Discovery) Sweep() {
	if d.isPaused() {
		d.log.Infof("sweep skipped: paused for backpressure")
		return
	}

	for _, root := range d.cfg.Roots {
		if err := d.sweepRoot(root); err != nil {
			d.log.WithError(err).Warnf("sweep of root %s failed; will retry next cycle", root.Path)
		}
	}
}

func (d *Discovery) sweepRoot(root Root) error {
	return filepath.WalkDir(root.Path, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			// Per-entry errors (permission denied, broken symlink) are logged
			// and skipped rather than aborting the whole walk.
			d.log.WithError(err).Warnf("sweep: skipping %s", path)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), "!") {
				return filepath.SkipDir
			}
			return nil
		}

		d.emitIfEligible(path, root.InvestorCode, CauseSweep)
		return nil
	})
}

// emitIfEligible applies the extension/size filters shared by Sweep and
// the fsnotify event loop, incrementing the matching drop counter and
// otherwise sending a DiscoveryEvent.
func (d *Discovery) emitIfEligible(path, investorCode string, cause Cause) {
	ext := strings.ToLower(filepath.Ext(path))
	if !d.cfg.SupportedExtensions[ext] {
		d.metrics.UnsupportedDropped.Inc()
		return
	}

	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	if fi.Size() > d.cfg.MaxFileSizeBytes {
		d.metrics.OversizeDropped.Inc()
		d.log.Warnf("dropping oversize file %s (%d bytes > %d max)", path, fi.Size(), d.cfg.MaxFileSizeBytes)
		return
	}

	select {
	case d.events <- DiscoveryEvent{Path: path, InvestorCode: investorCode, Cause: cause, ObservedAt: time.Now()}:
	case <-d.ctx.Done():
	}
}

func (d *Discovery) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), "!") {
				return filepath.SkipDir
			}
			return d.watcher.Add(path)
		}
		return nil
	})
}

// eventLoop consumes fsnotify events, resubscribing with exponential
// backoff (1s -> 30s) if the watcher's Events channel is closed out from
// under it (a disconnect).
func (d *Discovery) eventLoop() {
	defer d.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-d.ctx.Done():
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				d.log.Warnf("fsnotify event channel closed; resubscribing in %s", backoff)
				select {
				case <-time.After(backoff):
				case <-d.ctx.Done():
					return
				}
				if err := d.resubscribe(); err != nil {
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
					continue
				}
				backoff = time.Second
				continue
			}
			d.handleFsEvent(ev)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				continue
			}
			d.log.WithError(err).Warnf("fsnotify error")
		}
	}
}

func (d *Discovery) handleFsEvent(ev fsnotify.Event) {
	var cause Cause
	switch {
	case ev.Op&fsnotify.Create != 0:
		cause = CauseCreated
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if !strings.HasPrefix(filepath.Base(ev.Name), "!") {
				_ = d.watcher.Add(ev.Name)
			}
			return
		}
	case ev.Op&fsnotify.Write != 0:
		cause = CauseModified
	default:
		return
	}

	investorCode := d.investorCodeFor(ev.Name)
	d.emitIfEligible(ev.Name, investorCode, cause)
}

func (d *Discovery) investorCodeFor(path string) string {
	for _, root := range d.cfg.Roots {
		if strings.HasPrefix(path, root.Path) {
			return root.InvestorCode
		}
	}
	return ""
}

func (d *Discovery) resubscribe() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	oldWatcher := d.watcher
	d.watcher = w
	_ = oldWatcher.Close()

	for _, root := range d.cfg.Roots {
		if err := d.addWatchesRecursive(root.Path); err != nil {
			return err
		}
	}
	return nil
}
