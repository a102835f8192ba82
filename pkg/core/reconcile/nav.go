package reconcile

import (
	"math"
	"time"

	"pe_ingest/pkg/model"
)

type navSourceDetail struct {
	Source       string  `json:"source"`
	Value        float64 `json:"value"`
	DeviationPct float64 `json:"deviation_pct"`
}

// checkNAV compares NAV values from every available source against their
// average, grounded on original_source's nav_reconciler.py: a source is a
// discrepancy if it clears neither the relative nor the absolute
// tolerance, and the run's status escalates with the worst deviation seen.
func checkNAV(fundRef string, asOf time.Time, sources []NAVSource, tol Tolerances) model.ReconciliationFinding {
	if len(sources) < 2 {
		return newFinding(fundRef, asOf, model.ReconcileNAV, model.StatusPass,
			map[string]interface{}{"message": "insufficient NAV sources to reconcile", "sources": sources}, nil)
	}

	navTolerancePct := tol.NAVPct * 100
	navToleranceAbs := tol.NAVAbs

	var total float64
	for _, s := range sources {
		total += s.Value
	}
	avg := total / float64(len(sources))

	var details []navSourceDetail
	var discrepancies []navSourceDetail
	maxDeviationPct := 0.0

	for _, s := range sources {
		deviation := math.Abs(s.Value - avg)
		deviationPct := 0.0
		if avg > 0 {
			deviationPct = deviation / avg * 100
		}
		detail := navSourceDetail{Source: s.Name, Value: s.Value, DeviationPct: deviationPct}
		details = append(details, detail)

		withinPct := deviationPct <= navTolerancePct
		withinAbs := deviation <= navToleranceAbs
		if !withinPct && !withinAbs {
			discrepancies = append(discrepancies, detail)
		}
		if deviationPct > maxDeviationPct {
			maxDeviationPct = deviationPct
		}
	}

	status := model.StatusPass
	if len(discrepancies) > 0 {
		if maxDeviationPct < 1 {
			status = model.StatusWarning
		} else {
			status = model.StatusFail
		}
	}

	recommendations := nilIfEmpty(recommendFor(status, "review NAV sources against source documents"))

	return newFinding(fundRef, asOf, model.ReconcileNAV, status, map[string]interface{}{
		"average_nav":        avg,
		"sources":            details,
		"discrepancies":      discrepancies,
		"max_deviation_pct":  maxDeviationPct,
		"tolerance_pct":      navTolerancePct,
		"tolerance_abs":      navToleranceAbs,
	}, recommendations)
}

func recommendFor(status model.FindingStatus, msg string) []string {
	if status == model.StatusPass {
		return nil
	}
	return []string{msg}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
