package reconcile

import (
	"math"
	"time"

	"pe_ingest/pkg/model"
)

type commitmentViolation struct {
	InvestorRef string  `json:"investor_ref"`
	Kind        string  `json:"kind"`
	Expected    float64 `json:"expected"`
	Actual      float64 `json:"actual"`
}

// checkCommitment validates, per investor, that unfunded ≈ total − drawn
// and that drawn never exceeds total, per §4.10. Both checks are Fail-only
// in the spec's ladder — there is no intermediate Warning tier here, unlike
// NAV/cashflow/performance.
func checkCommitment(fundRef string, asOf time.Time, rows []CommitmentRow, tol Tolerances) model.ReconciliationFinding {
	if len(rows) == 0 {
		return newFinding(fundRef, asOf, model.ReconcileCommitment, model.StatusPass,
			map[string]interface{}{"message": "no commitment rows available"}, nil)
	}

	var violations []commitmentViolation
	for _, r := range rows {
		tolerance := math.Max(r.TotalCommitment*tol.CommitmentPct, tol.CommitmentAbs)
		expectedUnfunded := r.TotalCommitment - r.DrawnCommitment
		if math.Abs(r.UnfundedCommitment-expectedUnfunded) > tolerance {
			violations = append(violations, commitmentViolation{
				InvestorRef: r.InvestorRef, Kind: "unfunded_mismatch", Expected: expectedUnfunded, Actual: r.UnfundedCommitment,
			})
		}
		if r.DrawnCommitment > r.TotalCommitment+tolerance {
			violations = append(violations, commitmentViolation{
				InvestorRef: r.InvestorRef, Kind: "drawn_exceeds_total", Expected: r.TotalCommitment, Actual: r.DrawnCommitment,
			})
		}
	}

	status := model.StatusPass
	if len(violations) > 0 {
		status = model.StatusFail
	}

	return newFinding(fundRef, asOf, model.ReconcileCommitment, status, map[string]interface{}{
		"investors_checked": len(rows),
		"violations":        violations,
	}, recommendFor(status, "verify commitment figures against the latest capital account statement"))
}
