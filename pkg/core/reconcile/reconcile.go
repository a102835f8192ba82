// Package reconcile implements the ReconciliationEngine (C10): given the
// facts already persisted for one (fund_ref, as_of_date), it recomputes
// and cross-checks NAV, cashflow, performance, and commitment figures and
// emits ReconciliationFinding rows. Like resolver and extract, it never
// talks to storage directly — the caller assembles an Input from whatever
// it has queried.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
)

// Tolerances bundles the numeric allowances the four checks compare
// discrepancies against, sourced from config.Tolerances.
type Tolerances struct {
	NAVPct        float64
	NAVAbs        float64
	CommitmentPct float64
	CommitmentAbs float64
	IRRPP         float64
	MultipleAbs   float64
	TVPIIdentity  float64
	FeeRatePct    float64
}

func defaultTolerances() Tolerances {
	return Tolerances{
		NAVPct:        0.001,
		NAVAbs:        100,
		CommitmentPct: 0.001,
		CommitmentAbs: 1,
		IRRPP:         0.001,
		MultipleAbs:   0.01,
		TVPIIdentity:  0.001,
		FeeRatePct:    0.025,
	}
}

func withDefaults(t Tolerances) Tolerances {
	d := defaultTolerances()
	if t.NAVPct <= 0 {
		t.NAVPct = d.NAVPct
	}
	if t.NAVAbs <= 0 {
		t.NAVAbs = d.NAVAbs
	}
	if t.CommitmentPct <= 0 {
		t.CommitmentPct = d.CommitmentPct
	}
	if t.CommitmentAbs <= 0 {
		t.CommitmentAbs = d.CommitmentAbs
	}
	if t.IRRPP <= 0 {
		t.IRRPP = d.IRRPP
	}
	if t.MultipleAbs <= 0 {
		t.MultipleAbs = d.MultipleAbs
	}
	if t.TVPIIdentity <= 0 {
		t.TVPIIdentity = d.TVPIIdentity
	}
	if t.FeeRatePct <= 0 {
		t.FeeRatePct = d.FeeRatePct
	}
	return t
}

// NAVSource is one independently-derived NAV reading for the NAV check.
type NAVSource struct {
	Name  string
	Value float64
}

// PeriodCashflow is one period's fund-level aggregate for the cashflow
// check, summed across investors by the caller.
type PeriodCashflow struct {
	AsOfDate      time.Time
	Contributions float64
	Distributions float64
	Fees          float64
}

// CashflowEvent is one dated signed amount feeding the IRR recomputation;
// negative amounts are outflows (contributions), positive are inflows
// (distributions and the terminal NAV point).
type CashflowEvent struct {
	Date   time.Time
	Amount float64
}

// CommitmentRow is one investor's commitment figures for the commitment
// check.
type CommitmentRow struct {
	InvestorRef        string
	TotalCommitment    float64
	DrawnCommitment    float64
	UnfundedCommitment float64
}

// PerformanceInput bundles the reported metrics and the cashflow facts
// needed to recompute them.
type PerformanceInput struct {
	ReportedIRR  *float64
	ReportedMOIC *float64
	ReportedTVPI *float64
	ReportedDPI  *float64
	ReportedRVPI *float64

	CashflowEvents      []CashflowEvent
	TotalContributions  float64
	TotalDistributions  float64
	CurrentNAV          float64
}

// Input is everything one reconciliation run needs for a (fund_ref,
// as_of_date) pair. Zero-value fields mean "no data available" for that
// check, which the corresponding checker treats as insufficient data
// rather than a failure.
type Input struct {
	FundRef  string
	AsOfDate time.Time

	NAVSources []NAVSource

	RecentPeriods      []PeriodCashflow
	ExpectedPeriodStep time.Duration // cadence hint for gap detection; 0 skips the check

	Performance PerformanceInput

	Commitments []CommitmentRow
}

// Engine is the ReconciliationEngine. A singleflight.Group coalesces
// duplicate triggers for the same (fund_ref, as_of_date) key and serializes
// runs per key, per §5's "one outstanding run per (fund_ref, as_of_date);
// duplicate triggers are coalesced."
type Engine struct {
	log     *logging.Logger
	metrics *metricsreg.Registry
	tol     Tolerances
	group   singleflight.Group
}

// New builds an Engine.
func New(log *logging.Logger, metrics *metricsreg.Registry, tol Tolerances) *Engine {
	return &Engine{log: log.WithStage("reconcile"), metrics: metrics, tol: withDefaults(tol)}
}

// Run executes every reconciliation type in scope (all four if scope is
// empty) and returns one finding per type. Reconciliation never returns
// an error for discrepancies found; it returns ctx.Err(), alongside the
// findings, when the caller's context is done by the time the run ends.
func (e *Engine) Run(ctx context.Context, input Input, scope []model.ReconciliationType) ([]model.ReconciliationFinding, error) {
	key := fmt.Sprintf("%s|%s", input.FundRef, input.AsOfDate.Format("2006-01-02"))

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		return e.run(input, scope), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ReconciliationFinding), ctx.Err()
}

func (e *Engine) run(input Input, scope []model.ReconciliationType) []model.ReconciliationFinding {
	want := scopeSet(scope)

	var findings []model.ReconciliationFinding
	if want[model.ReconcileNAV] {
		f := checkNAV(input.FundRef, input.AsOfDate, input.NAVSources, e.tol)
		findings = append(findings, f)
	}
	if want[model.ReconcileCashflow] {
		f := checkCashflow(input.FundRef, input.AsOfDate, input.RecentPeriods, input.ExpectedPeriodStep, e.tol)
		findings = append(findings, f)
	}
	if want[model.ReconcilePerformance] {
		f := checkPerformance(input.FundRef, input.AsOfDate, input.Performance, e.tol)
		findings = append(findings, f)
	}
	if want[model.ReconcileCommitment] {
		f := checkCommitment(input.FundRef, input.AsOfDate, input.Commitments, e.tol)
		findings = append(findings, f)
	}

	for _, f := range findings {
		e.metrics.ReconcileFindings.WithLabelValues(string(f.Type), string(f.Status)).Inc()
		if f.Status != model.StatusPass {
			e.log.WithFund(input.FundRef).Warnf("reconciliation %s finding: %s (%s)", f.Type, f.Status, f.Severity)
		}
	}
	return findings
}

func scopeSet(scope []model.ReconciliationType) map[model.ReconciliationType]bool {
	if len(scope) == 0 {
		return map[model.ReconciliationType]bool{
			model.ReconcileNAV:         true,
			model.ReconcileCashflow:    true,
			model.ReconcilePerformance: true,
			model.ReconcileCommitment:  true,
		}
	}
	set := make(map[model.ReconciliationType]bool, len(scope))
	for _, t := range scope {
		set[t] = true
	}
	return set
}

// OverallStatus returns the worst status across a run's findings, per
// §4.10's "overall status for the run = worst severity encountered."
func OverallStatus(findings []model.ReconciliationFinding) model.FindingStatus {
	status := model.StatusPass
	for _, f := range findings {
		status = worseStatus(status, f.Status)
	}
	return status
}

func worseStatus(a, b model.FindingStatus) model.FindingStatus {
	rank := map[model.FindingStatus]int{model.StatusFail: 0, model.StatusWarning: 1, model.StatusPass: 2}
	if rank[a] <= rank[b] {
		return a
	}
	return b
}

func statusSeverity(status model.FindingStatus) model.Severity {
	switch status {
	case model.StatusFail:
		return model.SeverityCritical
	case model.StatusWarning:
		return model.SeverityMedium
	default:
		return model.SeverityInfo
	}
}

func newFinding(fundRef string, asOf time.Time, typ model.ReconciliationType, status model.FindingStatus, details interface{}, recommendations []string) model.ReconciliationFinding {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return model.ReconciliationFinding{
		FundRef:         fundRef,
		AsOfDate:        asOf,
		Type:            typ,
		Severity:        statusSeverity(status),
		Status:          status,
		DetailsJSON:     string(raw),
		Recommendations: recommendations,
	}
}
