package reconcile

import (
	"testing"

	"pe_ingest/pkg/model"
)

func floatPtr(f float64) *float64 { return &f }

func TestCheckPerformancePassesWhenReportedMatchesCalculated(t *testing.T) {
	events := []CashflowEvent{
		{Date: date(2020, 1, 1), Amount: -10_000_000},
		{Date: date(2023, 12, 31), Amount: 15_000_000},
	}
	input := PerformanceInput{
		CashflowEvents:     events,
		TotalContributions: 10_000_000,
		TotalDistributions: 5_000_000,
		CurrentNAV:         10_000_000,
		ReportedDPI:        floatPtr(0.5),
		ReportedRVPI:       floatPtr(1.0),
		ReportedTVPI:       floatPtr(1.5),
		ReportedMOIC:       floatPtr(1.5),
	}
	f := checkPerformance("fund-1", date(2023, 12, 31), input, defaultTolerances())
	if f.Status != model.StatusPass {
		t.Errorf("status = %s, want Pass: %s", f.Status, f.DetailsJSON)
	}
}

func TestCheckPerformanceWarnsOnMultipleMismatch(t *testing.T) {
	input := PerformanceInput{
		CashflowEvents:      []CashflowEvent{{Date: date(2020, 1, 1), Amount: -1}, {Date: date(2023, 1, 1), Amount: 2}},
		TotalContributions:  10_000_000,
		TotalDistributions:  5_000_000,
		CurrentNAV:          10_000_000,
		ReportedDPI:         floatPtr(0.8), // calculated is 0.5, diff 0.3 > tolerance
	}
	f := checkPerformance("fund-1", date(2023, 1, 1), input, defaultTolerances())
	if f.Status != model.StatusWarning {
		t.Errorf("status = %s, want Warning", f.Status)
	}
}

func TestCheckPerformanceFailsOnLargeIRRGap(t *testing.T) {
	input := PerformanceInput{
		CashflowEvents:     []CashflowEvent{{Date: date(2020, 1, 1), Amount: -1_000_000}, {Date: date(2023, 1, 1), Amount: 1_100_000}},
		TotalContributions: 1_000_000,
		TotalDistributions: 0,
		CurrentNAV:         1_100_000,
		ReportedIRR:        floatPtr(0.50), // far from the ~3% actual IRR
	}
	f := checkPerformance("fund-1", date(2023, 1, 1), input, defaultTolerances())
	if f.Status != model.StatusFail {
		t.Errorf("status = %s, want Fail", f.Status)
	}
}

func TestCheckPerformanceNoCashflowHistoryPasses(t *testing.T) {
	f := checkPerformance("fund-1", date(2023, 1, 1), PerformanceInput{}, defaultTolerances())
	if f.Status != model.StatusPass {
		t.Errorf("status = %s, want Pass with no data", f.Status)
	}
}
