package reconcile

import "math"

// cashflowPoint is a CashflowEvent converted to years-from-first-cashflow,
// the form the NPV function needs.
type cashflowPoint struct {
	years  float64
	amount float64
}

func npv(rate float64, cfs []cashflowPoint) float64 {
	sum := 0.0
	for _, cf := range cfs {
		sum += cf.amount / math.Pow(1+rate, cf.years)
	}
	return sum
}

func npvDerivative(rate float64, cfs []cashflowPoint) float64 {
	sum := 0.0
	for _, cf := range cfs {
		sum += -cf.years * cf.amount / math.Pow(1+rate, cf.years+1)
	}
	return sum
}

// newtonSeeds mirrors performance_reconciler.py's multi-start search —
// a single seed converges to the wrong root (or diverges) often enough
// with irregular PE cashflow schedules that trying several is worth it.
var newtonSeeds = []float64{0.1, 0.0, -0.1, 0.2, -0.2}

func newtonIRR(cfs []cashflowPoint, guess float64, maxIter int) (float64, bool) {
	rate := guess
	for i := 0; i < maxIter; i++ {
		f := npv(rate, cfs)
		fp := npvDerivative(rate, cfs)
		if fp == 0 {
			return 0, false
		}
		next := rate - f/fp
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, false
		}
		if math.Abs(next-rate) < 1e-7 {
			rate = next
			break
		}
		rate = next
	}
	if math.Abs(npv(rate, cfs)) < 0.01 {
		return rate, true
	}
	return 0, false
}

func bisectionIRR(cfs []cashflowPoint) float64 {
	low, high := -0.99, 5.0
	if npv(low, cfs)*npv(high, cfs) > 0 {
		return 0
	}
	for i := 0; i < 100; i++ {
		mid := (low + high) / 2
		v := npv(mid, cfs)
		if math.Abs(v) < 0.01 {
			return mid
		}
		if npv(low, cfs)*v < 0 {
			high = mid
		} else {
			low = mid
		}
	}
	return (low + high) / 2
}

// CalculateXIRR computes the internal rate of return for a chronological
// series of dated cashflows (negative amounts are outflows), time-weighted
// in years from the earliest event, via Newton's method seeded from five
// starting points with a bisection fallback, per §4.10.
func CalculateXIRR(events []CashflowEvent) float64 {
	if len(events) < 2 {
		return 0
	}
	first := events[0].Date
	for _, e := range events {
		if e.Date.Before(first) {
			first = e.Date
		}
	}

	cfs := make([]cashflowPoint, len(events))
	for i, e := range events {
		years := e.Date.Sub(first).Hours() / 24 / 365.25
		cfs[i] = cashflowPoint{years: years, amount: e.Amount}
	}

	for _, seed := range newtonSeeds {
		if irr, ok := newtonIRR(cfs, seed, 100); ok {
			return irr
		}
	}
	return bisectionIRR(cfs)
}
