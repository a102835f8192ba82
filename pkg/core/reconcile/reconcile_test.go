package reconcile

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
)

func testEngine() *Engine {
	log := logging.New(logging.Options{Service: "test", Output: io.Discard})
	metrics := metricsreg.NewWithRegistry("test-reconcile", prometheus.NewRegistry())
	return New(log, metrics, Tolerances{})
}

func TestRunProducesAllFourFindingsByDefault(t *testing.T) {
	e := testEngine()
	input := Input{
		FundRef:  "fund-1",
		AsOfDate: date(2023, 12, 31),
		NAVSources: []NAVSource{
			{Name: "capital_account", Value: 40_700_000},
			{Name: "quarterly_report", Value: 40_700_000},
		},
		Commitments: []CommitmentRow{
			{InvestorRef: "inv-1", TotalCommitment: 50_000_000, DrawnCommitment: 35_000_000, UnfundedCommitment: 15_000_000},
		},
	}
	findings, err := e.Run(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(findings) != 4 {
		t.Fatalf("expected 4 findings (one per type), got %d", len(findings))
	}
}

func TestRunRespectsScope(t *testing.T) {
	e := testEngine()
	input := Input{FundRef: "fund-1", AsOfDate: date(2023, 12, 31)}
	findings, err := e.Run(context.Background(), input, []model.ReconciliationType{model.ReconcileNAV})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(findings) != 1 || findings[0].Type != model.ReconcileNAV {
		t.Fatalf("expected exactly one NAV finding, got %+v", findings)
	}
}

func TestOverallStatusIsWorstAcrossFindings(t *testing.T) {
	findings := []model.ReconciliationFinding{
		{Type: model.ReconcileNAV, Status: model.StatusPass},
		{Type: model.ReconcileCashflow, Status: model.StatusWarning},
		{Type: model.ReconcileCommitment, Status: model.StatusFail},
	}
	if got := OverallStatus(findings); got != model.StatusFail {
		t.Errorf("OverallStatus = %s, want Fail", got)
	}
}

func TestRunCoalescesConcurrentDuplicateTriggers(t *testing.T) {
	e := testEngine()
	input := Input{FundRef: "fund-1", AsOfDate: date(2023, 12, 31)}

	var wg sync.WaitGroup
	results := make([][]model.ReconciliationFinding, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			findings, err := e.Run(context.Background(), input, []model.ReconciliationType{model.ReconcileNAV})
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			results[idx] = findings
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if len(r) != 1 {
			t.Errorf("expected every coalesced caller to receive the finding, got %+v", r)
		}
	}
}
