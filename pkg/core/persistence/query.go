package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pe_ingest/pkg/core/reconcile"
	"pe_ingest/pkg/model"
)

// Reader answers the read queries the pipeline needs for fund resolution
// (candidate matching in resolver.ResolveFund) and for assembling
// reconcile.Input ahead of a ReconciliationEngine run. It is a separate
// type from Writer because it never takes the keyed-mutex write lock and
// every method is a plain read-only query.
type Reader struct {
	pool *pgxpool.Pool
}

// NewReader builds a Reader against an already-connected pool.
func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// InvestorByCode looks up an Investor by its path-derived investor_code.
func (r *Reader) InvestorByCode(ctx context.Context, code string) (model.Investor, bool, error) {
	var inv model.Investor
	err := r.pool.QueryRow(ctx, `
		SELECT investor_ref, investor_code, name, created_at FROM investors WHERE investor_code = $1
	`, code).Scan(&inv.InvestorRef, &inv.InvestorCode, &inv.Name, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Investor{}, false, nil
		}
		return model.Investor{}, false, fmt.Errorf("persistence: investor by code %s: %w", code, err)
	}
	return inv, true, nil
}

// FundsForInvestor returns every Fund already known for investorRef, the
// candidate set resolver.ResolveFund matches an extracted fund name
// against.
func (r *Reader) FundsForInvestor(ctx context.Context, investorRef string) ([]model.Fund, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fund_ref, investor_ref, fund_code, name, created_at FROM funds WHERE investor_ref = $1
	`, investorRef)
	if err != nil {
		return nil, fmt.Errorf("persistence: funds for investor %s: %w", investorRef, err)
	}
	defer rows.Close()

	var out []model.Fund
	for rows.Next() {
		var f model.Fund
		if err := rows.Scan(&f.FundRef, &f.InvestorRef, &f.FundCode, &f.Name, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("persistence: scan fund: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ExistingFundCodes returns the set of fund_code values already taken for
// investorRef, for resolver.GenerateFundCode's collision check.
func (r *Reader) ExistingFundCodes(ctx context.Context, investorRef string) (map[string]bool, error) {
	funds, err := r.FundsForInvestor(ctx, investorRef)
	if err != nil {
		return nil, err
	}
	codes := make(map[string]bool, len(funds))
	for _, f := range funds {
		codes[f.FundCode] = true
	}
	return codes, nil
}

// navSourceLabel maps a source document's doc_type to the NAV source name
// used by reconcile's NAV check, per original_source's nav_reconciler
// source set {capital_account, quarterly_report, performance}.
func navSourceLabel(dt model.DocType) string {
	switch dt {
	case model.DocQuarterlyReport:
		return "quarterly_report"
	case model.DocAnnualReport:
		return "annual_report"
	default:
		return "capital_account"
	}
}

// NAVSourcesFor gathers every independently-sourced NAV reading for
// (fundRef, asOfDate): per-document nav_observations at fund scope, plus
// the CAS-sum of ending_balance across investor capital_account_rows,
// which is itself one of the three sources nav_reconciler.py compares.
func (r *Reader) NAVSourcesFor(ctx context.Context, fundRef string, asOfDate time.Time) ([]reconcile.NAVSource, error) {
	var sources []reconcile.NAVSource

	rows, err := r.pool.Query(ctx, `
		SELECT d.doc_type, n.value
		FROM nav_observations n
		JOIN documents d ON d.doc_id = n.source_doc_id
		WHERE n.fund_ref = $1 AND n.as_of_date = $2 AND n.scope = 'Fund'
	`, fundRef, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("persistence: nav observations for %s/%s: %w", fundRef, asOfDate, err)
	}
	for rows.Next() {
		var docType model.DocType
		var value float64
		if err := rows.Scan(&docType, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("persistence: scan nav observation: %w", err)
		}
		sources = append(sources, reconcile.NAVSource{Name: navSourceLabel(docType), Value: value})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var casSum float64
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ending_balance), 0) FROM capital_account_rows
		WHERE fund_ref = $1 AND as_of_date = $2
	`, fundRef, asOfDate).Scan(&casSum)
	if err != nil {
		return nil, fmt.Errorf("persistence: cas-sum nav for %s/%s: %w", fundRef, asOfDate, err)
	}
	if casSum > 0 {
		sources = append(sources, reconcile.NAVSource{Name: "capital_account_sum", Value: casSum})
	}

	return sources, nil
}

// RecentCashflowPeriods returns up to n most recent capital_account_rows
// for fundRef, aggregated across investors per as_of_date, the shape
// reconcile.checkCashflow trims to its last-four window.
func (r *Reader) RecentCashflowPeriods(ctx context.Context, fundRef string, n int) ([]reconcile.PeriodCashflow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT as_of_date,
			SUM(contributions_period), SUM(distributions_period),
			SUM(management_fees_period) + SUM(partnership_expenses_period)
		FROM capital_account_rows
		WHERE fund_ref = $1
		GROUP BY as_of_date
		ORDER BY as_of_date DESC
		LIMIT $2
	`, fundRef, n)
	if err != nil {
		return nil, fmt.Errorf("persistence: recent cashflow periods for %s: %w", fundRef, err)
	}
	defer rows.Close()

	var out []reconcile.PeriodCashflow
	for rows.Next() {
		var p reconcile.PeriodCashflow
		if err := rows.Scan(&p.AsOfDate, &p.Contributions, &p.Distributions, &p.Fees); err != nil {
			return nil, fmt.Errorf("persistence: scan cashflow period: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CashflowEventsFor returns the full signed cashflow history for fundRef,
// for reconcile.CalculateXIRR: Call/Fee/Tax outflows negative, Distribution
// inflows positive.
func (r *Reader) CashflowEventsFor(ctx context.Context, fundRef string) ([]reconcile.CashflowEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT flow_type, flow_date, amount FROM cashflows WHERE fund_ref = $1 ORDER BY flow_date ASC
	`, fundRef)
	if err != nil {
		return nil, fmt.Errorf("persistence: cashflow events for %s: %w", fundRef, err)
	}
	defer rows.Close()

	var out []reconcile.CashflowEvent
	for rows.Next() {
		var flowType model.FlowType
		var date time.Time
		var amount float64
		if err := rows.Scan(&flowType, &date, &amount); err != nil {
			return nil, fmt.Errorf("persistence: scan cashflow event: %w", err)
		}
		signed := -amount
		if flowType == model.FlowDistribution {
			signed = amount
		}
		out = append(out, reconcile.CashflowEvent{Date: date, Amount: signed})
	}
	return out, rows.Err()
}

// PerformanceInputFor assembles reconcile.PerformanceInput from the latest
// performance_metrics row (reported figures) and the capital account /
// cashflow history (figures to recompute from).
func (r *Reader) PerformanceInputFor(ctx context.Context, fundRef string, asOfDate time.Time) (reconcile.PerformanceInput, error) {
	var input reconcile.PerformanceInput

	err := r.pool.QueryRow(ctx, `
		SELECT irr_net, moic, tvpi, dpi, rvpi FROM performance_metrics
		WHERE fund_ref = $1 AND as_of_date = $2
	`, fundRef, asOfDate).Scan(&input.ReportedIRR, &input.ReportedMOIC, &input.ReportedTVPI, &input.ReportedDPI, &input.ReportedRVPI)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return input, fmt.Errorf("persistence: performance metrics for %s/%s: %w", fundRef, asOfDate, err)
	}

	events, err := r.CashflowEventsFor(ctx, fundRef)
	if err != nil {
		return input, err
	}
	input.CashflowEvents = events

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(contributions_period), 0), COALESCE(SUM(distributions_period), 0)
		FROM capital_account_rows WHERE fund_ref = $1
	`, fundRef).Scan(&input.TotalContributions, &input.TotalDistributions)
	if err != nil {
		return input, fmt.Errorf("persistence: contribution/distribution totals for %s: %w", fundRef, err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ending_balance), 0) FROM capital_account_rows
		WHERE fund_ref = $1 AND as_of_date = $2
	`, fundRef, asOfDate).Scan(&input.CurrentNAV)
	if err != nil {
		return input, fmt.Errorf("persistence: current nav for %s/%s: %w", fundRef, asOfDate, err)
	}

	return input, nil
}

// CommitmentRowsFor returns the per-investor commitment figures for
// (fundRef, asOfDate), reconcile.checkCommitment's input.
func (r *Reader) CommitmentRowsFor(ctx context.Context, fundRef string, asOfDate time.Time) ([]reconcile.CommitmentRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT investor_ref, total_commitment, drawn_commitment, unfunded_commitment
		FROM capital_account_rows WHERE fund_ref = $1 AND as_of_date = $2
	`, fundRef, asOfDate)
	if err != nil {
		return nil, fmt.Errorf("persistence: commitment rows for %s/%s: %w", fundRef, asOfDate, err)
	}
	defer rows.Close()

	var out []reconcile.CommitmentRow
	for rows.Next() {
		var c reconcile.CommitmentRow
		if err := rows.Scan(&c.InvestorRef, &c.TotalCommitment, &c.DrawnCommitment, &c.UnfundedCommitment); err != nil {
			return nil, fmt.Errorf("persistence: scan commitment row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
