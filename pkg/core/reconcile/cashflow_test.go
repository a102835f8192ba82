package reconcile

import (
	"testing"
	"time"

	"pe_ingest/pkg/model"
)

func TestCheckCashflowPassesCleanPeriods(t *testing.T) {
	periods := []PeriodCashflow{
		{AsOfDate: date(2023, 3, 31), Contributions: 1_000_000, Distributions: 0, Fees: 10_000},
		{AsOfDate: date(2023, 6, 30), Contributions: 1_000_000, Distributions: 200_000, Fees: 10_000},
		{AsOfDate: date(2023, 9, 30), Contributions: 500_000, Distributions: 300_000, Fees: 5_000},
		{AsOfDate: date(2023, 12, 31), Contributions: 0, Distributions: 1_000_000, Fees: 0},
	}
	f := checkCashflow("fund-1", date(2023, 12, 31), periods, 91*24*time.Hour, defaultTolerances())
	if f.Status != model.StatusPass {
		t.Errorf("status = %s, want Pass: %s", f.Status, f.DetailsJSON)
	}
}

func TestCheckCashflowFailsOnNegativeContributions(t *testing.T) {
	periods := []PeriodCashflow{
		{AsOfDate: date(2023, 9, 30), Contributions: -50_000, Distributions: 0, Fees: 0},
	}
	f := checkCashflow("fund-1", date(2023, 9, 30), periods, 0, defaultTolerances())
	if f.Status != model.StatusFail {
		t.Errorf("status = %s, want Fail", f.Status)
	}
}

func TestCheckCashflowWarnsOnExcessiveFeeRate(t *testing.T) {
	periods := []PeriodCashflow{
		{AsOfDate: date(2023, 9, 30), Contributions: 1_000_000, Distributions: 0, Fees: 50_000},
	}
	f := checkCashflow("fund-1", date(2023, 9, 30), periods, 0, defaultTolerances())
	if f.Status != model.StatusWarning {
		t.Errorf("status = %s, want Warning", f.Status)
	}
}

func TestCheckCashflowWarnsOnMissingPeriod(t *testing.T) {
	periods := []PeriodCashflow{
		{AsOfDate: date(2023, 3, 31), Contributions: 100_000},
		{AsOfDate: date(2023, 12, 31), Contributions: 100_000},
	}
	f := checkCashflow("fund-1", date(2023, 12, 31), periods, 91*24*time.Hour, defaultTolerances())
	if f.Status != model.StatusWarning {
		t.Errorf("status = %s, want Warning for a missing quarter", f.Status)
	}
}

func TestCheckCashflowTakesOnlyLastFourPeriods(t *testing.T) {
	periods := []PeriodCashflow{
		{AsOfDate: date(2022, 12, 31), Contributions: -1}, // would fail, but outside the last 4
		{AsOfDate: date(2023, 3, 31), Contributions: 100_000},
		{AsOfDate: date(2023, 6, 30), Contributions: 100_000},
		{AsOfDate: date(2023, 9, 30), Contributions: 100_000},
		{AsOfDate: date(2023, 12, 31), Contributions: 100_000},
	}
	f := checkCashflow("fund-1", date(2023, 12, 31), periods, 0, defaultTolerances())
	if f.Status != model.StatusPass {
		t.Errorf("status = %s, want Pass (older violating period dropped)", f.Status)
	}
}
