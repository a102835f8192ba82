package reconcile

import (
	"testing"

	"pe_ingest/pkg/model"
)

func TestCheckNAVPassesWithinTolerance(t *testing.T) {
	f := checkNAV("fund-1", date(2023, 12, 31), []NAVSource{
		{Name: "capital_account", Value: 40_700_000},
		{Name: "quarterly_report", Value: 40_710_000},
	}, defaultTolerances())
	if f.Status != model.StatusPass {
		t.Errorf("status = %s, want Pass", f.Status)
	}
}

func TestCheckNAVWarningOnModerateDeviation(t *testing.T) {
	f := checkNAV("fund-1", date(2023, 12, 31), []NAVSource{
		{Name: "capital_account", Value: 40_000_000},
		{Name: "quarterly_report", Value: 40_300_000},
	}, defaultTolerances())
	if f.Status != model.StatusWarning {
		t.Errorf("status = %s, want Warning", f.Status)
	}
}

func TestCheckNAVFailOnLargeDeviation(t *testing.T) {
	f := checkNAV("fund-1", date(2023, 12, 31), []NAVSource{
		{Name: "capital_account", Value: 40_000_000},
		{Name: "quarterly_report", Value: 45_000_000},
	}, defaultTolerances())
	if f.Status != model.StatusFail {
		t.Errorf("status = %s, want Fail", f.Status)
	}
	if f.Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want Critical", f.Severity)
	}
}

func TestCheckNAVInsufficientSourcesPasses(t *testing.T) {
	f := checkNAV("fund-1", date(2023, 12, 31), []NAVSource{{Name: "capital_account", Value: 100}}, defaultTolerances())
	if f.Status != model.StatusPass {
		t.Errorf("status = %s, want Pass for insufficient data", f.Status)
	}
}
