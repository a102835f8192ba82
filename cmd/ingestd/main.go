// Command ingestd runs the PE-fund document ingestion daemon: Discovery
// watches every configured investor root, the Debouncer coalesces and
// hands settled paths to the Pipeline, and a cron-scheduled embedding
// retry sweep catches anything the IndexerWorker couldn't embed on the
// first pass, per §5.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"pe_ingest/pkg/config"
	"pe_ingest/pkg/core/classifier"
	"pe_ingest/pkg/core/discovery"
	"pe_ingest/pkg/core/extract"
	"pe_ingest/pkg/core/indexer"
	"pe_ingest/pkg/core/ledger"
	"pe_ingest/pkg/core/llm"
	"pe_ingest/pkg/core/parser"
	"pe_ingest/pkg/core/persistence"
	"pe_ingest/pkg/core/pipeline"
	"pe_ingest/pkg/core/queue"
	"pe_ingest/pkg/core/reconcile"
	"pe_ingest/pkg/core/store"
	"pe_ingest/pkg/core/vectorindex"
	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to pipeline config YAML")
	envPath := flag.String("env", ".env", "path to .env file for secrets")
	flag.Parse()

	log := logging.NewFromEnv("ingestd")

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.WithError(err).Errorf("loading config")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := metricsreg.New("ingestd")

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Errorf("opening database pool")
		os.Exit(1)
	}
	defer pool.Close()

	var llmClient llm.Client
	if cfg.GeminiAPIKey != "" {
		llmClient = llm.NewGeminiClient(cfg.GeminiAPIKey, cfg.LLM.Model, cfg.LLM.Concurrency, cfg.LLM.RatePerMinute)
	} else {
		log.Infof("GEMINI_API_KEY not set, classification/extraction LLM fallback disabled")
	}

	led := ledger.New(cfg.MaxAttempts)

	parsers := parser.NewRegistry()

	clsCfg := classifier.DefaultConfig()
	clsCfg.MinConfidence = cfg.ClassificationMinConf
	cls := classifier.New(clsCfg, llmClient)

	chain := extract.New(llmClient, extract.Tolerances{
		BalancePct:    cfg.Tolerances.BalancePct,
		BalanceAbs:    cfg.Tolerances.BalanceAbs,
		CommitmentPct: cfg.Tolerances.CommitmentPct,
		CommitmentAbs: cfg.Tolerances.CommitmentAbs,
	})

	writer := persistence.New(pool, log, metrics)
	reader := persistence.NewReader(pool)

	vindex := vectorindex.NewMemoryIndex()
	idx := indexer.New(vindex, led, metrics, log, cfg.IndexerWorkers)

	recon := reconcile.New(log, metrics, reconcile.Tolerances{
		NAVPct:        cfg.Tolerances.NAVPct,
		NAVAbs:        cfg.Tolerances.NAVAbs,
		CommitmentPct: cfg.Tolerances.CommitmentPct,
		CommitmentAbs: cfg.Tolerances.CommitmentAbs,
		IRRPP:         cfg.Tolerances.IRRPP,
		MultipleAbs:   cfg.Tolerances.MultipleAbs,
		TVPIIdentity:  cfg.Tolerances.TVPIIdentity,
		FeeRatePct:    cfg.Tolerances.FeeRatePctLimit,
	})

	pipe := pipeline.New(cfg, log, metrics, led, parsers, cls, chain, writer, reader, idx, recon)

	discCfg := discovery.Config{
		SupportedExtensions: make(map[string]bool, len(cfg.SupportedExtensions)),
		MaxFileSizeBytes:    int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		CronExpr:            cfg.RescanCron,
	}
	for _, ext := range cfg.SupportedExtensions {
		discCfg.SupportedExtensions[ext] = true
	}
	for _, r := range cfg.Roots {
		discCfg.Roots = append(discCfg.Roots, discovery.Root{Path: r.Path, InvestorCode: r.InvestorCode})
	}

	disc, err := discovery.New(discCfg, log, metrics)
	if err != nil {
		log.WithError(err).Errorf("constructing discovery")
		os.Exit(1)
	}

	debounceWindow := time.Duration(cfg.DebounceSeconds) * time.Second
	deb := queue.New(debounceWindow, cfg.WorkQueueCapacity, led, disc, log, metrics)

	errCh := make(chan error, 2)
	go func() { errCh <- disc.Start(ctx) }()
	go func() {
		deb.Run(ctx, disc.Events())
		errCh <- nil
	}()
	go func() { errCh <- pipe.Run(ctx, deb.Work()) }()

	go runEmbeddingRetrySweep(ctx, idx, log)

	select {
	case <-ctx.Done():
		log.Infof("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Errorf("component exited with error")
		}
		cancel()
	}
}

// runEmbeddingRetrySweep periodically retries IndexerWorker embeddings
// that failed, independent of the §5 DAG's main ingestion path.
func runEmbeddingRetrySweep(ctx context.Context, idx *indexer.Worker, log *logging.Logger) {
	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		if err := idx.RetrySweep(ctx); err != nil {
			log.WithError(err).Warnf("embedding retry sweep failed")
		}
	})
	if err != nil {
		log.WithError(err).Warnf("scheduling embedding retry sweep failed")
		return
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
}
