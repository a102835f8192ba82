package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pe_ingest/pkg/core/classifier"
	"pe_ingest/pkg/core/extract"
	"pe_ingest/pkg/core/indexer"
	"pe_ingest/pkg/core/parser"
	"pe_ingest/pkg/core/persistence"
	"pe_ingest/pkg/core/reconcile"
	"pe_ingest/pkg/core/resolver"
	"pe_ingest/pkg/model"
	"pe_ingest/pkg/pkgerrors"
)

// parse dispatches to the registered Parser for path's extension, running
// it with the configured ParserDeadline. A missing parser for the
// extension is a terminal ParseError; discovery/debouncer are already
// supposed to filter unsupported extensions, so reaching this only
// happens for an operator-forced ProcessFile call on an odd path.
func (p *Pipeline) parse(ctx context.Context, path string) (doc parser.ParsedDoc, ext string, err error) {
	ext = strings.ToLower(filepath.Ext(path))
	pp := p.parsers.For(ext)
	if pp == nil {
		return parser.ParsedDoc{}, ext, pkgerrors.New(pkgerrors.ParseError, "", fmt.Sprintf("no parser registered for %s", ext))
	}

	deadline := p.cfg.ParserDeadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		doc parser.ParsedDoc
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, e := pp.Parse(path)
		done <- result{doc: d, err: e}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return parser.ParsedDoc{}, ext, pkgerrors.Wrap(pkgerrors.ParseError, "", "parsing failed", r.err)
		}
		return r.doc, ext, nil
	case <-pctx.Done():
		return parser.ParsedDoc{}, ext, pkgerrors.Wrap(pkgerrors.Transient, "", "parse deadline exceeded", pctx.Err())
	}
}

// buildDocumentWrite runs classification output and ExtractorChain fields
// through the Resolver and assembles a persistence.DocumentWrite, along
// with the resolved investor/fund refs for the indexer and reconcile
// triggers further down the chain.
func (p *Pipeline) buildDocumentWrite(ctx context.Context, docID, path, investorCode string, cls classifier.Result, ext extract.Result) (persistence.DocumentWrite, string, string, error) {
	var audits []model.FieldAudit
	audits = append(audits, ext.Audits...)

	if cls.BelowMinConf {
		audits = append(audits, model.FieldAudit{
			DocID:            docID,
			FieldName:        "doc_type",
			RawValue:         string(cls.DocType),
			NormalizedValue:  string(model.DocOther),
			ExtractorTag:     "classifier",
			Confidence:       cls.Confidence,
			ValidationStatus: model.ValidationMissing,
		})
	}

	investorName := fieldValue(ext, "investor_name")
	_, investorAudit := resolver.ResolveInvestor(investorCode, investorName)
	if investorAudit != nil {
		audits = append(audits, auditFromResolver(docID, "investor_name", investorAudit))
	}
	investor := model.Investor{InvestorCode: investorCode, Name: investorName}

	existingInvestor, found, err := p.reader.InvestorByCode(ctx, investorCode)
	if err != nil {
		return persistence.DocumentWrite{}, "", "", pkgerrors.Wrap(pkgerrors.Transient, docID, "investor lookup failed", err)
	}
	if found {
		investor.InvestorRef = existingInvestor.InvestorRef
		if investor.Name == "" {
			investor.Name = existingInvestor.Name
		}
	} else {
		// Pre-assign the ref so NAVObservation/Cashflow rows built below
		// reference the same identity the upsert will persist, since those
		// tables take fund_ref/investor_ref from the struct, not from
		// Persist's resolved return values.
		investor.InvestorRef = uuid.NewString()
	}

	fundName := fieldValue(ext, "fund_name")
	fund, fundAudit, err := p.resolveFund(ctx, investor.InvestorRef, fundName)
	if err != nil {
		return persistence.DocumentWrite{}, "", "", err
	}
	if fundAudit != "" {
		audits = append(audits, model.FieldAudit{
			DocID:           docID,
			FieldName:       "fund_name",
			RawValue:        fundName,
			NormalizedValue: fundAudit,
			ExtractorTag:    "resolver",
			Confidence:      1,
		})
	}

	currencyRaw := fieldValue(ext, "reporting_currency")
	currency, currAudit := resolver.ResolveCurrency(currencyRaw, p.cfg.ReportingCurrency)
	if currAudit != nil {
		audits = append(audits, auditFromResolver(docID, "reporting_currency", currAudit))
	}

	doc := model.Document{
		DocID:              docID,
		DocType:            cls.DocType,
		ClassificationConf: cls.Confidence,
		SourcePath:         path,
		AsOfDate:           ext.AsOfDate,
		OverallConfidence:  ext.OverallConfidence,
	}

	dw := persistence.DocumentWrite{
		Investor: investor,
		Fund:     fund,
		Document: doc,
		Audits:   audits,
	}

	if extractionErr := missingFieldsMessage(cls.DocType, ext); extractionErr != "" {
		dw.ExtractionError = extractionErr
	}

	if cls.DocType == model.DocCapitalAccountStatement && ext.AsOfDate != nil {
		row := buildCapitalAccountRow(docID, currency, *ext.AsOfDate, ext)
		dw.CapitalAccount = &row
		nav := model.NAVObservation{
			FundRef:     fund.FundRef,
			Scope:       model.NAVScopeInvestor,
			InvestorRef: investor.InvestorRef,
			AsOfDate:    *ext.AsOfDate,
			Value:       row.EndingBalance,
			Currency:    currency,
			SourceDocID: docID,
		}
		if verr := resolver.ValidateNAVObservation(nav.Value, nav.AsOfDate); verr != nil {
			dw.Audits = append(dw.Audits, model.FieldAudit{
				DocID:            docID,
				FieldName:        "ending_balance",
				RawValue:         fmt.Sprintf("%v", nav.Value),
				ExtractorTag:     "resolver",
				Confidence:       1,
				ValidationStatus: model.ValidationInconsistent,
				NormalizedValue:  verr.Error(),
			})
		}
		dw.NAVObservations = append(dw.NAVObservations, nav)

		cashflows, cashflowAudits := buildCashflows(docID, currency, fund.FundRef, investor.InvestorRef, *ext.AsOfDate, row)
		dw.Cashflows = cashflows
		dw.Audits = append(dw.Audits, cashflowAudits...)
	}

	return dw, investor.InvestorRef, fund.FundRef, nil
}

func (p *Pipeline) resolveFund(ctx context.Context, investorRef, fundName string) (model.Fund, string, error) {
	if fundName == "" {
		return model.Fund{}, "", nil
	}

	var candidates []model.Fund
	var err error
	if investorRef != "" {
		candidates, err = p.reader.FundsForInvestor(ctx, investorRef)
		if err != nil {
			return model.Fund{}, "", pkgerrors.Wrap(pkgerrors.Transient, "", "fund candidate lookup failed", err)
		}
	}

	match := resolver.ResolveFund(fundName, candidates)
	if match.Matched {
		return model.Fund{FundRef: match.FundRef, InvestorRef: investorRef, Name: fundName}, "", nil
	}

	existingCodes := map[string]bool{}
	if investorRef != "" {
		existingCodes, err = p.reader.ExistingFundCodes(ctx, investorRef)
		if err != nil {
			return model.Fund{}, "", pkgerrors.Wrap(pkgerrors.Transient, "", "fund code lookup failed", err)
		}
	}
	code := resolver.GenerateFundCode(fundName, existingCodes)
	return model.Fund{FundRef: uuid.NewString(), InvestorRef: investorRef, FundCode: code, Name: fundName},
		fmt.Sprintf("assigned new fund_code %s", code), nil
}

func fieldValue(ext extract.Result, name string) string {
	if f, ok := ext.Fields[name]; ok {
		return f.NormalizedValue
	}
	return ""
}

func fieldFloat(ext extract.Result, name string) float64 {
	if f, ok := ext.Fields[name]; ok {
		return f.FloatValue
	}
	return 0
}

func auditFromResolver(docID, field string, a *resolver.AuditEvent) model.FieldAudit {
	return model.FieldAudit{
		DocID:            docID,
		FieldName:        field,
		ExtractorTag:     "resolver",
		ValidationStatus: model.ValidationOK,
		Confidence:       1,
		NormalizedValue:  a.Message,
	}
}

func missingFieldsMessage(dt model.DocType, ext extract.Result) string {
	if ext.OverallConfidence >= 0.5 && ext.AsOfDate != nil {
		return ""
	}
	var missing []string
	if ext.AsOfDate == nil {
		missing = append(missing, "as_of_date")
	}
	if len(missing) == 0 {
		return fmt.Sprintf("overall confidence %.2f below review threshold", ext.OverallConfidence)
	}
	return fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", "))
}

func buildCapitalAccountRow(docID, currency string, asOfDate time.Time, ext extract.Result) model.CapitalAccountRow {
	status := "Consistent"
	for _, a := range ext.Audits {
		if a.ValidationStatus == model.ValidationInconsistent {
			status = "Inconsistent"
			break
		}
	}
	return model.CapitalAccountRow{
		AsOfDate:                   asOfDate,
		Currency:                   currency,
		BeginningBalance:           fieldFloat(ext, "beginning_balance"),
		EndingBalance:              fieldFloat(ext, "ending_balance"),
		ContributionsPeriod:        fieldFloat(ext, "contributions_period"),
		DistributionsPeriod:        fieldFloat(ext, "distributions_period"),
		DistributionsRecallable:    fieldFloat(ext, "distributions_recallable"),
		DistributionsNonRecallable: fieldFloat(ext, "distributions_non_recallable"),
		ManagementFeesPeriod:       fieldFloat(ext, "management_fees_period"),
		PartnershipExpensesPeriod:  fieldFloat(ext, "partnership_expenses_period"),
		RealizedGainLossPeriod:     fieldFloat(ext, "realized_gain_loss_period"),
		UnrealizedGainLossPeriod:   fieldFloat(ext, "unrealized_gain_loss_period"),
		TotalCommitment:            fieldFloat(ext, "total_commitment"),
		DrawnCommitment:            fieldFloat(ext, "drawn_commitment"),
		UnfundedCommitment:         fieldFloat(ext, "unfunded_commitment"),
		ValidationStatus:           status,
		SourceDocID:                docID,
	}
}

func buildCashflows(docID, currency, fundRef, investorRef string, asOfDate time.Time, row model.CapitalAccountRow) ([]model.Cashflow, []model.FieldAudit) {
	var out []model.Cashflow
	var audits []model.FieldAudit
	add := func(flowType model.FlowType, amount float64) {
		if amount == 0 {
			return
		}
		cf := model.Cashflow{
			FundRef:     fundRef,
			InvestorRef: investorRef,
			FlowType:    flowType,
			FlowDate:    asOfDate,
			Amount:      amount,
			Currency:    currency,
			SourceDocID: docID,
		}
		if verr := resolver.ValidateCashflow(cf.FlowType, cf.Amount, cf.FlowDate); verr != nil {
			audits = append(audits, model.FieldAudit{
				DocID:            docID,
				FieldName:        string(flowType),
				RawValue:         fmt.Sprintf("%v", amount),
				ExtractorTag:     "resolver",
				Confidence:       1,
				ValidationStatus: model.ValidationInconsistent,
				NormalizedValue:  verr.Error(),
			})
		}
		out = append(out, cf)
	}
	add(model.FlowCall, row.ContributionsPeriod)
	add(model.FlowDistribution, row.DistributionsPeriod)
	add(model.FlowFee, row.ManagementFeesPeriod+row.PartnershipExpensesPeriod)
	return out, audits
}

// indexIfApplicable builds the IndexerWorker's ChunkInput and fires it on
// a context detached from the caller's request lifetime: indexing is a
// downstream DAG stage decoupled from ProcessFile's own cancellation, and
// failure here is non-fatal to persistence per §4.9.
func (p *Pipeline) indexIfApplicable(hash, docID, investorRef, fundRef string, cls classifier.Result, ext extract.Result, dw persistence.DocumentWrite) {
	var asOf *string
	if ext.AsOfDate != nil {
		s := ext.AsOfDate.Format("2006-01-02")
		asOf = &s
	}
	input := indexer.ChunkInput{
		DocID:       docID,
		DocType:     cls.DocType,
		FundRef:     fundRef,
		InvestorRef: investorRef,
		AsOfDate:    asOf,
		Row:         dw.CapitalAccount,
	}
	deadline := p.cfg.IndexerDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		defer cancel()
		p.indexer.Index(ctx, hash, input)
	}()
}

// triggerReconcileIfApplicable assembles a reconcile.Input from the
// Reader and runs the ReconciliationEngine, per §5's "fires after every
// PersistenceWriter commit that resolved a fund_ref and as_of_date".
// Concurrent runs across documents are bounded by reconSem, sized from
// cfg.ReconciliationWorkers, the same way ParserWorkers/IndexerWorkers
// bound their own stages; the call stays synchronous so ProcessResult's
// FindingsCount reflects this document's own trigger.
func (p *Pipeline) triggerReconcileIfApplicable(ctx context.Context, fundRef string, asOfDate *time.Time) int {
	if fundRef == "" || asOfDate == nil || p.reconciler == nil {
		return 0
	}

	select {
	case p.reconSem <- struct{}{}:
	case <-ctx.Done():
		return 0
	}
	defer func() { <-p.reconSem }()

	input, err := p.assembleReconcileInput(ctx, fundRef, *asOfDate)
	if err != nil {
		p.log.WithFund(fundRef).WithError(err).Warnf("could not assemble reconciliation input")
		return 0
	}

	findings, err := p.reconciler.Run(ctx, input, nil)
	if err != nil {
		p.log.WithFund(fundRef).WithError(err).Warnf("reconciliation run failed")
		return 0
	}
	return len(findings)
}

func (p *Pipeline) assembleReconcileInput(ctx context.Context, fundRef string, asOfDate time.Time) (reconcile.Input, error) {
	navSources, err := p.reader.NAVSourcesFor(ctx, fundRef, asOfDate)
	if err != nil {
		return reconcile.Input{}, err
	}
	periods, err := p.reader.RecentCashflowPeriods(ctx, fundRef, 4)
	if err != nil {
		return reconcile.Input{}, err
	}
	perf, err := p.reader.PerformanceInputFor(ctx, fundRef, asOfDate)
	if err != nil {
		return reconcile.Input{}, err
	}
	commitments, err := p.reader.CommitmentRowsFor(ctx, fundRef, asOfDate)
	if err != nil {
		return reconcile.Input{}, err
	}

	return reconcile.Input{
		FundRef:            fundRef,
		AsOfDate:           asOfDate,
		NAVSources:         navSources,
		RecentPeriods:      periods,
		ExpectedPeriodStep: 90 * 24 * time.Hour,
		Performance:        perf,
		Commitments:        commitments,
	}, nil
}
