// Package persistence implements the PersistenceWriter component (C8):
// committing one document's outcome in a single transaction against a
// relational store, per §4.8. The pool is a constructor-injected
// dependency rather than a package-level singleton, per §9's redesign
// guidance away from the source's global DB engine.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
)

// ErrDuplicateDocument is returned when the Document insert hits a
// doc_id conflict; the caller (pipeline) transitions the FileLedger entry
// to Skipped rather than retrying, per §4.8 step 2.
var ErrDuplicateDocument = errors.New("persistence: duplicate doc_id")

// DocumentWrite bundles everything one PersistenceWriter transaction needs
// for a single document.
type DocumentWrite struct {
	Investor           model.Investor
	Fund               model.Fund
	Document           model.Document
	CapitalAccount     *model.CapitalAccountRow
	NAVObservations    []model.NAVObservation
	Cashflows          []model.Cashflow
	PerformanceMetrics []model.PerformanceMetric
	Audits             []model.FieldAudit
	// ExtractionError records why overall_confidence fell short or fields
	// were missing, persisted on the document row per §9's resolution of
	// the extraction_error open question.
	ExtractionError string
}

// Writer commits DocumentWrites transactionally and serializes writers
// that target the same (fund_ref, investor_ref, as_of_date) key.
type Writer struct {
	pool    *pgxpool.Pool
	log     *logging.Logger
	metrics *metricsreg.Registry
	keys    *keyedMutex
}

// New builds a Writer against an already-connected pool.
func New(pool *pgxpool.Pool, log *logging.Logger, metrics *metricsreg.Registry) *Writer {
	return &Writer{pool: pool, log: log.WithStage("persist"), metrics: metrics, keys: newKeyedMutex()}
}

func writeKey(dw DocumentWrite) string {
	asOf := "none"
	if dw.Document.AsOfDate != nil {
		asOf = dw.Document.AsOfDate.Format("2006-01-02")
	}
	return fmt.Sprintf("%s|%s|%s", dw.Fund.FundRef, dw.Investor.InvestorRef, asOf)
}

// Persist runs the full §4.8 contract in one transaction. On success it
// returns the resolved InvestorRef/FundRef (filled in for newly created
// rows) so the caller can update its in-memory resolution cache.
func (w *Writer) Persist(ctx context.Context, dw DocumentWrite) (investorRef, fundRef string, err error) {
	unlock := w.keys.Lock(writeKey(dw))
	defer unlock()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	investorRef, err = w.upsertInvestor(ctx, tx, dw.Investor)
	if err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", err
	}

	fundRef, err = w.upsertFund(ctx, tx, dw.Fund, investorRef)
	if err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", err
	}

	if err := w.insertDocument(ctx, tx, dw, investorRef, fundRef); err != nil {
		if errors.Is(err, ErrDuplicateDocument) {
			w.metrics.PersistErrors.WithLabelValues("conflict").Inc()
			return investorRef, fundRef, err
		}
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", err
	}

	if dw.CapitalAccount != nil {
		if err := w.upsertCapitalAccount(ctx, tx, *dw.CapitalAccount, fundRef, investorRef); err != nil {
			w.metrics.PersistErrors.WithLabelValues("transient").Inc()
			return "", "", err
		}
	}

	if err := w.insertAudits(ctx, tx, dw.Audits); err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", err
	}

	if err := w.insertNAVObservations(ctx, tx, dw.NAVObservations); err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", err
	}

	if err := w.insertCashflows(ctx, tx, dw.Cashflows); err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", err
	}

	if err := w.insertPerformanceMetrics(ctx, tx, dw.PerformanceMetrics); err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", err
	}

	if err := tx.Commit(ctx); err != nil {
		w.metrics.PersistErrors.WithLabelValues("transient").Inc()
		return "", "", fmt.Errorf("persistence: commit: %w", err)
	}

	w.log.WithDoc(dw.Document.DocID).Infof("persisted document type=%s fund_ref=%s", dw.Document.DocType, fundRef)
	return investorRef, fundRef, nil
}

func (w *Writer) upsertInvestor(ctx context.Context, tx pgx.Tx, inv model.Investor) (string, error) {
	ref := inv.InvestorRef
	if ref == "" {
		ref = uuid.NewString()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO investors (investor_ref, investor_code, name, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (investor_code) DO UPDATE SET name = EXCLUDED.name
	`, ref, inv.InvestorCode, inv.Name)
	if err != nil {
		return "", fmt.Errorf("persistence: upsert investor: %w", err)
	}
	// The conflict target is investor_code, not investor_ref: re-read the
	// canonical ref in case this investor_code already existed under a
	// different ref than the one we generated speculatively.
	var canonical string
	if err := tx.QueryRow(ctx, `SELECT investor_ref FROM investors WHERE investor_code = $1`, inv.InvestorCode).Scan(&canonical); err != nil {
		return "", fmt.Errorf("persistence: read back investor_ref: %w", err)
	}
	return canonical, nil
}

func (w *Writer) upsertFund(ctx context.Context, tx pgx.Tx, fund model.Fund, investorRef string) (string, error) {
	ref := fund.FundRef
	if ref == "" {
		ref = uuid.NewString()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO funds (fund_ref, investor_ref, fund_code, name, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (investor_ref, fund_code) DO UPDATE SET name = EXCLUDED.name
	`, ref, investorRef, fund.FundCode, fund.Name)
	if err != nil {
		return "", fmt.Errorf("persistence: upsert fund: %w", err)
	}
	var canonical string
	if err := tx.QueryRow(ctx, `SELECT fund_ref FROM funds WHERE investor_ref = $1 AND fund_code = $2`, investorRef, fund.FundCode).Scan(&canonical); err != nil {
		return "", fmt.Errorf("persistence: read back fund_ref: %w", err)
	}
	return canonical, nil
}

func (w *Writer) insertDocument(ctx context.Context, tx pgx.Tx, dw DocumentWrite, investorRef, fundRef string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO documents (doc_id, doc_type, classification_confidence, source_path,
			investor_ref, fund_ref, as_of_date, overall_confidence, extraction_error, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NULLIF($9, ''), now())
		ON CONFLICT (doc_id) DO NOTHING
	`, dw.Document.DocID, dw.Document.DocType, dw.Document.ClassificationConf, dw.Document.SourcePath,
		investorRef, fundRef, dw.Document.AsOfDate, dw.Document.OverallConfidence, dw.ExtractionError)
	if err != nil {
		return fmt.Errorf("persistence: insert document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateDocument
	}
	return nil
}

// upsertCapitalAccount applies ON-CONFLICT-UPDATE semantics for the
// mutable balance/flow fields, keyed by (fund_ref, investor_ref,
// as_of_date), per §4.8 step 3. Commitments are authoritative-by-latest-
// source: the incoming row always overwrites them on conflict.
func (w *Writer) upsertCapitalAccount(ctx context.Context, tx pgx.Tx, row model.CapitalAccountRow, fundRef, investorRef string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO capital_account_rows (
			fund_ref, investor_ref, as_of_date, currency,
			beginning_balance, ending_balance,
			contributions_period, distributions_period, distributions_recallable, distributions_non_recallable,
			management_fees_period, partnership_expenses_period,
			realized_gain_loss_period, unrealized_gain_loss_period,
			total_commitment, drawn_commitment, unfunded_commitment,
			validation_status, source_doc_id, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19, now())
		ON CONFLICT (fund_ref, investor_ref, as_of_date) DO UPDATE SET
			currency = EXCLUDED.currency,
			beginning_balance = EXCLUDED.beginning_balance,
			ending_balance = EXCLUDED.ending_balance,
			contributions_period = EXCLUDED.contributions_period,
			distributions_period = EXCLUDED.distributions_period,
			distributions_recallable = EXCLUDED.distributions_recallable,
			distributions_non_recallable = EXCLUDED.distributions_non_recallable,
			management_fees_period = EXCLUDED.management_fees_period,
			partnership_expenses_period = EXCLUDED.partnership_expenses_period,
			realized_gain_loss_period = EXCLUDED.realized_gain_loss_period,
			unrealized_gain_loss_period = EXCLUDED.unrealized_gain_loss_period,
			total_commitment = EXCLUDED.total_commitment,
			drawn_commitment = EXCLUDED.drawn_commitment,
			unfunded_commitment = EXCLUDED.unfunded_commitment,
			validation_status = EXCLUDED.validation_status,
			source_doc_id = EXCLUDED.source_doc_id,
			updated_at = now()
	`, fundRef, investorRef, row.AsOfDate, row.Currency,
		row.BeginningBalance, row.EndingBalance,
		row.ContributionsPeriod, row.DistributionsPeriod, row.DistributionsRecallable, row.DistributionsNonRecallable,
		row.ManagementFeesPeriod, row.PartnershipExpensesPeriod,
		row.RealizedGainLossPeriod, row.UnrealizedGainLossPeriod,
		row.TotalCommitment, row.DrawnCommitment, row.UnfundedCommitment,
		row.ValidationStatus, row.SourceDocID)
	if err != nil {
		return fmt.Errorf("persistence: upsert capital account row: %w", err)
	}
	return nil
}

func (w *Writer) insertAudits(ctx context.Context, tx pgx.Tx, audits []model.FieldAudit) error {
	for _, a := range audits {
		_, err := tx.Exec(ctx, `
			INSERT INTO field_audits (doc_id, field_name, raw_value, normalized_value,
				extractor_tag, confidence, validation_status, override, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8, now())
		`, a.DocID, a.FieldName, a.RawValue, a.NormalizedValue, a.ExtractorTag, a.Confidence, a.ValidationStatus, a.Override)
		if err != nil {
			return fmt.Errorf("persistence: insert field audit %s: %w", a.FieldName, err)
		}
	}
	return nil
}

func (w *Writer) insertNAVObservations(ctx context.Context, tx pgx.Tx, obs []model.NAVObservation) error {
	for _, o := range obs {
		_, err := tx.Exec(ctx, `
			INSERT INTO nav_observations (fund_ref, scope, investor_ref, as_of_date, value, currency, source_doc_id, created_at)
			VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7, now())
		`, o.FundRef, o.Scope, o.InvestorRef, o.AsOfDate, o.Value, o.Currency, o.SourceDocID)
		if err != nil {
			return fmt.Errorf("persistence: insert nav observation: %w", err)
		}
	}
	return nil
}

func (w *Writer) insertCashflows(ctx context.Context, tx pgx.Tx, flows []model.Cashflow) error {
	for _, f := range flows {
		_, err := tx.Exec(ctx, `
			INSERT INTO cashflows (fund_ref, investor_ref, flow_type, flow_date, amount, currency, source_doc_id, created_at)
			VALUES ($1,NULLIF($2,''),$3,$4,$5,$6,$7, now())
		`, f.FundRef, f.InvestorRef, f.FlowType, f.FlowDate, f.Amount, f.Currency, f.SourceDocID)
		if err != nil {
			return fmt.Errorf("persistence: insert cashflow: %w", err)
		}
	}
	return nil
}

func (w *Writer) insertPerformanceMetrics(ctx context.Context, tx pgx.Tx, metrics []model.PerformanceMetric) error {
	for _, m := range metrics {
		_, err := tx.Exec(ctx, `
			INSERT INTO performance_metrics (fund_ref, as_of_date, irr_net, moic, tvpi, dpi, rvpi, called_pct, distributed_pct, source_doc_id, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		`, m.FundRef, m.AsOfDate, m.IRRNet, m.MOIC, m.TVPI, m.DPI, m.RVPI, m.CalledPct, m.DistributedPct, m.SourceDocID)
		if err != nil {
			return fmt.Errorf("persistence: insert performance metric: %w", err)
		}
	}
	return nil
}
