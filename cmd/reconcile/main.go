// Command reconcile runs the ReconciliationEngine on demand for one fund
// and as-of date, printing the resulting findings as a table, per §6's
// Reconcile operation exposed outside the daemon's own request path.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pe_ingest/pkg/config"
	"pe_ingest/pkg/core/persistence"
	"pe_ingest/pkg/core/reconcile"
	"pe_ingest/pkg/core/store"
	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to pipeline config YAML")
	envPath := flag.String("env", ".env", "path to .env file for secrets")
	fundRef := flag.String("fund", "", "fund_ref to reconcile")
	asOf := flag.String("as-of", "", "as_of_date, YYYY-MM-DD")
	scopeFlag := flag.String("scope", "", "comma-separated check types (NAV,Cashflow,Performance,Commitment); empty runs all")
	flag.Parse()

	if *fundRef == "" || *asOf == "" {
		fmt.Fprintln(os.Stderr, "usage: reconcile -fund=<fund_ref> -as-of=YYYY-MM-DD [-scope=NAV,Cashflow,...]")
		os.Exit(2)
	}

	asOfDate, err := time.Parse("2006-01-02", *asOf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -as-of date %q: %v\n", *asOf, err)
		os.Exit(2)
	}

	var scope []model.ReconciliationType
	if *scopeFlag != "" {
		for _, s := range strings.Split(*scopeFlag, ",") {
			scope = append(scope, model.ReconciliationType(strings.TrimSpace(s)))
		}
	}

	log := logging.NewFromEnv("reconcile")

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.WithError(err).Errorf("loading config")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Errorf("opening database pool")
		os.Exit(1)
	}
	defer pool.Close()

	metrics := metricsreg.New("reconcile")
	reader := persistence.NewReader(pool)
	engine := reconcile.New(log, metrics, reconcile.Tolerances{
		NAVPct:        cfg.Tolerances.NAVPct,
		NAVAbs:        cfg.Tolerances.NAVAbs,
		CommitmentPct: cfg.Tolerances.CommitmentPct,
		CommitmentAbs: cfg.Tolerances.CommitmentAbs,
		IRRPP:         cfg.Tolerances.IRRPP,
		MultipleAbs:   cfg.Tolerances.MultipleAbs,
		TVPIIdentity:  cfg.Tolerances.TVPIIdentity,
		FeeRatePct:    cfg.Tolerances.FeeRatePctLimit,
	})

	input, err := assembleInput(ctx, reader, *fundRef, asOfDate)
	if err != nil {
		log.WithError(err).Errorf("assembling reconciliation input")
		os.Exit(1)
	}

	findings, err := engine.Run(ctx, input, scope)
	if err != nil {
		log.WithError(err).Errorf("reconciliation run failed")
		os.Exit(1)
	}

	if len(findings) == 0 {
		fmt.Println("no findings")
		return
	}

	fmt.Printf("%-12s %-9s %-8s %s\n", "type", "severity", "status", "details")
	for _, f := range findings {
		fmt.Printf("%-12s %-9s %-8s %s\n", f.Type, f.Severity, f.Status, f.DetailsJSON)
	}
}

func assembleInput(ctx context.Context, reader *persistence.Reader, fundRef string, asOfDate time.Time) (reconcile.Input, error) {
	navSources, err := reader.NAVSourcesFor(ctx, fundRef, asOfDate)
	if err != nil {
		return reconcile.Input{}, err
	}
	periods, err := reader.RecentCashflowPeriods(ctx, fundRef, 4)
	if err != nil {
		return reconcile.Input{}, err
	}
	perf, err := reader.PerformanceInputFor(ctx, fundRef, asOfDate)
	if err != nil {
		return reconcile.Input{}, err
	}
	commitments, err := reader.CommitmentRowsFor(ctx, fundRef, asOfDate)
	if err != nil {
		return reconcile.Input{}, err
	}

	return reconcile.Input{
		FundRef:            fundRef,
		AsOfDate:           asOfDate,
		NAVSources:         navSources,
		RecentPeriods:      periods,
		ExpectedPeriodStep: 90 * 24 * time.Hour,
		Performance:        perf,
		Commitments:        commitments,
	}, nil
}
