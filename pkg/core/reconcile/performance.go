package reconcile

import (
	"math"
	"time"

	"pe_ingest/pkg/model"
)

const irrFailThreshold = 0.02

type calculatedMetrics struct {
	IRR  float64
	MOIC float64
	TVPI float64
	DPI  float64
	RVPI float64
}

func computeMetrics(input PerformanceInput) calculatedMetrics {
	var m calculatedMetrics
	m.IRR = CalculateXIRR(input.CashflowEvents)
	if input.TotalContributions > 0 {
		m.DPI = input.TotalDistributions / input.TotalContributions
		m.RVPI = input.CurrentNAV / input.TotalContributions
		m.TVPI = m.DPI + m.RVPI
		m.MOIC = (input.TotalDistributions + input.CurrentNAV) / input.TotalContributions
	}
	return m
}

type metricDiscrepancy struct {
	Metric     string  `json:"metric"`
	Reported   float64 `json:"reported"`
	Calculated float64 `json:"calculated"`
	Difference float64 `json:"difference"`
}

// checkPerformance recomputes IRR/MOIC/TVPI/DPI/RVPI from cashflow history
// and compares against the reported values, grounded on
// performance_reconciler.py's tolerance ladder: an IRR gap under 2pp is a
// Warning, at or above it is a Fail; multiple gaps and the TVPI=DPI+RVPI
// identity only ever escalate a Pass to a Warning, never to a Fail.
func checkPerformance(fundRef string, asOf time.Time, input PerformanceInput, tol Tolerances) model.ReconciliationFinding {
	if len(input.CashflowEvents) == 0 {
		return newFinding(fundRef, asOf, model.ReconcilePerformance, model.StatusPass,
			map[string]interface{}{"message": "no cashflow history available for recalculation"}, nil)
	}

	calc := computeMetrics(input)
	status := model.StatusPass
	var discrepancies []metricDiscrepancy

	if input.ReportedIRR != nil {
		diff := math.Abs(*input.ReportedIRR - calc.IRR)
		if diff > tol.IRRPP {
			if diff < irrFailThreshold {
				status = model.StatusWarning
			} else {
				status = model.StatusFail
			}
			discrepancies = append(discrepancies, metricDiscrepancy{"IRR", *input.ReportedIRR, calc.IRR, diff})
		}
	}

	compareMultiple := func(name string, reported *float64, calculated float64) {
		if reported == nil {
			return
		}
		diff := math.Abs(*reported - calculated)
		if diff > tol.MultipleAbs {
			if status != model.StatusFail {
				status = model.StatusWarning
			}
			discrepancies = append(discrepancies, metricDiscrepancy{name, *reported, calculated, diff})
		}
	}
	compareMultiple("MOIC", input.ReportedMOIC, calc.MOIC)
	compareMultiple("TVPI", input.ReportedTVPI, calc.TVPI)
	compareMultiple("DPI", input.ReportedDPI, calc.DPI)
	compareMultiple("RVPI", input.ReportedRVPI, calc.RVPI)

	tvpiCheck := math.Abs(calc.TVPI - (calc.DPI + calc.RVPI))
	if tvpiCheck > tol.TVPIIdentity {
		if status != model.StatusFail {
			status = model.StatusWarning
		}
		discrepancies = append(discrepancies, metricDiscrepancy{"TVPI_IDENTITY", calc.DPI + calc.RVPI, calc.TVPI, tvpiCheck})
	}

	return newFinding(fundRef, asOf, model.ReconcilePerformance, status, map[string]interface{}{
		"calculated":    calc,
		"discrepancies": discrepancies,
	}, recommendFor(status, "recheck reported performance metrics against the recalculated cashflow-based figures"))
}
