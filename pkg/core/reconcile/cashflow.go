package reconcile

import (
	"sort"
	"time"

	"pe_ingest/pkg/model"
)

type cashflowViolation struct {
	AsOfDate string  `json:"as_of_date,omitempty"`
	Kind     string  `json:"kind"`
	Detail   string  `json:"detail"`
	Value    float64 `json:"value,omitempty"`
}

// checkCashflow sums the last four periods and flags negative
// contributions, excessive fee rates, and gaps in the period sequence, per
// §4.10.
func checkCashflow(fundRef string, asOf time.Time, periods []PeriodCashflow, expectedStep time.Duration, tol Tolerances) model.ReconciliationFinding {
	if len(periods) == 0 {
		return newFinding(fundRef, asOf, model.ReconcileCashflow, model.StatusPass,
			map[string]interface{}{"message": "no cashflow periods available"}, nil)
	}

	sorted := append([]PeriodCashflow(nil), periods...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AsOfDate.Before(sorted[j].AsOfDate) })
	if len(sorted) > 4 {
		sorted = sorted[len(sorted)-4:]
	}

	var violations []cashflowViolation
	status := model.StatusPass

	var totalContrib, totalDist, totalFees float64
	for i, p := range sorted {
		totalContrib += p.Contributions
		totalDist += p.Distributions
		totalFees += p.Fees

		if p.Contributions < 0 {
			violations = append(violations, cashflowViolation{
				AsOfDate: p.AsOfDate.Format("2006-01-02"), Kind: "negative_contributions", Value: p.Contributions,
			})
			status = model.StatusFail
		}
		if p.Contributions > 0 && p.Fees/p.Contributions > tol.FeeRatePct {
			violations = append(violations, cashflowViolation{
				AsOfDate: p.AsOfDate.Format("2006-01-02"), Kind: "fee_rate_exceeded", Value: p.Fees / p.Contributions,
			})
			if status != model.StatusFail {
				status = model.StatusWarning
			}
		}
		if i > 0 && expectedStep > 0 {
			gap := p.AsOfDate.Sub(sorted[i-1].AsOfDate)
			if gap > expectedStep+expectedStep/2 {
				violations = append(violations, cashflowViolation{
					AsOfDate: p.AsOfDate.Format("2006-01-02"), Kind: "missing_period", Detail: "gap since prior period exceeds expected cadence",
				})
				if status != model.StatusFail {
					status = model.StatusWarning
				}
			}
		}
	}

	return newFinding(fundRef, asOf, model.ReconcileCashflow, status, map[string]interface{}{
		"periods_considered":  len(sorted),
		"total_contributions": totalContrib,
		"total_distributions": totalDist,
		"total_fees":          totalFees,
		"violations":          violations,
	}, recommendFor(status, "review capital call and distribution notices for the flagged periods"))
}
