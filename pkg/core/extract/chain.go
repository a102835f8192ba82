// Package extract implements the ExtractorChain component (C6): for a
// classified document, produce a set of typed fields each with a field
// audit entry, trying an Anchor+Regex pass, then a Table-structure pass,
// falling back to the LLMClient capability for anything still missing.
package extract

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"pe_ingest/pkg/core/llm"
	"pe_ingest/pkg/core/parser"
	"pe_ingest/pkg/core/resolver"
	"pe_ingest/pkg/model"
)

// ExtractedField is one catalog field's resolved value.
type ExtractedField struct {
	Name             string
	RawValue         string
	NormalizedValue  string
	FloatValue       float64
	DateValue        time.Time
	Confidence       float64
	ExtractorTag     string // "anchor", "table", or "llm"
	ValidationStatus model.ValidationStatus
}

// Result is the ExtractorChain's output for one document.
type Result struct {
	Fields            map[string]ExtractedField
	Audits            []model.FieldAudit
	OverallConfidence float64
	AsOfDate          *time.Time
}

// Tolerances bundles the numeric allowances the balance and commitment
// identity checks in validate compare against, sourced from
// config.Tolerances.
type Tolerances struct {
	BalancePct    float64
	BalanceAbs    float64
	CommitmentPct float64
	CommitmentAbs float64
}

func defaultTolerances() Tolerances {
	return Tolerances{BalancePct: 0.005, BalanceAbs: 100, CommitmentPct: 0.001, CommitmentAbs: 1}
}

func withDefaults(t Tolerances) Tolerances {
	d := defaultTolerances()
	if t.BalancePct <= 0 {
		t.BalancePct = d.BalancePct
	}
	if t.BalanceAbs <= 0 {
		t.BalanceAbs = d.BalanceAbs
	}
	if t.CommitmentPct <= 0 {
		t.CommitmentPct = d.CommitmentPct
	}
	if t.CommitmentAbs <= 0 {
		t.CommitmentAbs = d.CommitmentAbs
	}
	return t
}

// Chain wires the three extractors together. llmClient may be nil, in
// which case step 3 of §4.6 is skipped for any field anchors and tables
// could not resolve.
type Chain struct {
	llmClient llm.Client
	tol       Tolerances
}

// New builds a Chain.
func New(llmClient llm.Client, tol Tolerances) *Chain {
	return &Chain{llmClient: llmClient, tol: withDefaults(tol)}
}

const llmTextBudget = 3000
const llmTableBudget = 3

// Extract runs the full chain for one classified, parsed document.
func (c *Chain) Extract(ctx context.Context, docType model.DocType, docID string, doc parser.ParsedDoc, filename string) Result {
	specs := CatalogFor(docType)
	result := Result{Fields: make(map[string]ExtractedField)}
	if len(specs) == 0 {
		return result
	}

	fullText := doc.FullText()
	anchors := anchorExtractAll(specs, fullText)
	tables := tableExtractAll(specs, doc.Tables)

	var missing []FieldSpec
	for _, spec := range specs {
		field, ok := c.composeField(spec, anchors, tables)
		if ok {
			result.Fields[spec.Name] = field
			result.Audits = append(result.Audits, auditFor(docID, field))
		} else {
			missing = append(missing, spec)
		}
	}

	if len(missing) > 0 && c.llmClient != nil {
		c.fillFromLLM(ctx, docID, missing, fullText, doc.Tables, &result)
	}

	c.applyAsOfDateFallback(docID, specs, filename, &result)
	c.validate(docID, docType, &result)
	result.OverallConfidence = weightedMeanConfidence(result.Fields)
	return result
}

// composeField picks the anchor value when present (base 0.9, -0.1 if not
// found verbatim), else the table value (base 0.85, +0.05 on alias hit),
// upgrading confidence to max(confidences, 0.95) when both agree.
func (c *Chain) composeField(spec FieldSpec, anchors map[string]anchorCandidate, tables map[string]tableCandidate) (ExtractedField, bool) {
	anchor, hasAnchor := anchors[spec.Name]
	table, hasTable := tables[spec.Name]

	if !hasAnchor && !hasTable {
		return ExtractedField{}, false
	}

	if hasAnchor {
		conf := 0.9
		if !anchor.verbatim {
			conf -= 0.1
		}
		field, err := normalizeField(spec, anchor.rawValue, conf, "anchor")
		if err != nil {
			if hasTable {
				return c.tableOnlyField(spec, table)
			}
			return ExtractedField{}, false
		}
		if hasTable {
			tableConf := 0.85
			if table.aliasHit {
				tableConf += 0.05
			}
			if tableField, terr := normalizeField(spec, table.rawValue, tableConf, "table"); terr == nil && valuesAgree(field, tableField) {
				field.Confidence = math.Max(math.Max(field.Confidence, tableConf), 0.95)
			}
		}
		return field, true
	}

	return c.tableOnlyField(spec, table)
}

func (c *Chain) tableOnlyField(spec FieldSpec, table tableCandidate) (ExtractedField, bool) {
	conf := 0.85
	if table.aliasHit {
		conf += 0.05
	}
	field, err := normalizeField(spec, table.rawValue, conf, "table")
	if err != nil {
		return ExtractedField{}, false
	}
	return field, true
}

func valuesAgree(a, b ExtractedField) bool {
	switch {
	case a.NormalizedValue == "" || b.NormalizedValue == "":
		return false
	case !a.DateValue.IsZero() && !b.DateValue.IsZero():
		return a.DateValue.Equal(b.DateValue)
	case a.FloatValue != 0 || b.FloatValue != 0:
		tol := math.Max(math.Abs(a.FloatValue)*0.01, 1)
		return math.Abs(a.FloatValue-b.FloatValue) <= tol
	default:
		return strings.EqualFold(a.NormalizedValue, b.NormalizedValue)
	}
}

// normalizeField converts a raw matched string into its typed form
// according to the field's Kind.
func normalizeField(spec FieldSpec, raw string, confidence float64, tag string) (ExtractedField, error) {
	field := ExtractedField{
		Name:             spec.Name,
		RawValue:         raw,
		Confidence:       confidence,
		ExtractorTag:     tag,
		ValidationStatus: model.ValidationOK,
	}
	switch spec.Kind {
	case KindCurrency:
		v, err := ParseCurrencyValue(raw)
		if err != nil {
			return ExtractedField{}, err
		}
		field.FloatValue = v
		field.NormalizedValue = fmt.Sprintf("%.2f", v)
	case KindDate:
		t, err := resolver.ParseDate(raw)
		if err != nil {
			return ExtractedField{}, err
		}
		field.DateValue = t
		field.NormalizedValue = t.Format("2006-01-02")
	default:
		field.NormalizedValue = strings.TrimSpace(raw)
	}
	return field, nil
}

// fillFromLLM invokes the LLM field matcher for the fields anchors and
// tables could not resolve, per §4.6 step 3. Values are capped at 0.8 and
// re-validated through the same normalization path as the other extractors.
func (c *Chain) fillFromLLM(ctx context.Context, docID string, missing []FieldSpec, text string, tables []parser.Table, result *Result) {
	names := CatalogNames(missing)
	excerpt := text
	if len(excerpt) > llmTextBudget {
		excerpt = excerpt[:llmTextBudget]
	}

	var tableExcerpts []llm.TableExcerpt
	for i, t := range tables {
		if i >= llmTableBudget {
			break
		}
		tableExcerpts = append(tableExcerpts, llm.TableExcerpt{Headers: t.Headers, Rows: t.Rows})
	}

	values, err := c.llmClient.ExtractFields(ctx, names, excerpt, tableExcerpts)
	if err != nil {
		return
	}

	specByName := make(map[string]FieldSpec, len(missing))
	for _, s := range missing {
		specByName[s.Name] = s
	}

	for name, raw := range values {
		spec, ok := specByName[name]
		if !ok || raw == "" {
			continue
		}
		field, nerr := normalizeField(spec, raw, 0.8, "llm")
		if nerr != nil {
			continue
		}
		result.Fields[name] = field
		result.Audits = append(result.Audits, auditFor(docID, field))
	}
}

// applyAsOfDateFallback attempts filename-based quarter parsing when the
// catalog includes as_of_date but no extractor resolved it, per §4.6; if
// still unresolved it records a field audit with status Missing and
// extractor tag "none", and leaves Result.AsOfDate nil.
func (c *Chain) applyAsOfDateFallback(docID string, specs []FieldSpec, filename string, result *Result) {
	hasAsOfDate := false
	for _, s := range specs {
		if s.Name == "as_of_date" {
			hasAsOfDate = true
			break
		}
	}
	if !hasAsOfDate {
		return
	}

	if field, ok := result.Fields["as_of_date"]; ok {
		result.AsOfDate = &field.DateValue
		return
	}

	if t, ok := resolver.ParseQuarterFromFilename(filename); ok {
		field := ExtractedField{
			Name:             "as_of_date",
			RawValue:         filename,
			NormalizedValue:  t.Format("2006-01-02"),
			DateValue:        t,
			Confidence:       0.6,
			ExtractorTag:     "filename_fallback",
			ValidationStatus: model.ValidationOK,
		}
		result.Fields["as_of_date"] = field
		result.Audits = append(result.Audits, auditFor(docID, field))
		result.AsOfDate = &t
		return
	}

	result.Audits = append(result.Audits, model.FieldAudit{
		DocID:            docID,
		FieldName:        "as_of_date",
		ExtractorTag:     "none",
		ValidationStatus: model.ValidationMissing,
		Override:         false,
	})
}

// validate applies the balance identity, commitment identity,
// non-negativity, and date-sanity checks of §4.6. Violations mark the
// relevant field audit Inconsistent but never drop the row.
func (c *Chain) validate(docID string, docType model.DocType, result *Result) {
	if docType != model.DocCapitalAccountStatement {
		c.validateDateSanity(docID, result)
		return
	}

	get := func(name string) (float64, bool) {
		f, ok := result.Fields[name]
		return f.FloatValue, ok
	}

	beginning, hasBeg := get("beginning_balance")
	ending, hasEnd := get("ending_balance")
	contributions, _ := get("contributions_period")
	distributions, _ := get("distributions_period")
	fees, _ := get("management_fees_period")
	expenses, _ := get("partnership_expenses_period")
	realized, _ := get("realized_gain_loss_period")
	unrealized, _ := get("unrealized_gain_loss_period")

	if hasBeg && hasEnd {
		computed := beginning + contributions - distributions - fees - expenses + realized + unrealized
		tolerance := math.Max(math.Abs(ending)*c.tol.BalancePct, c.tol.BalanceAbs)
		if math.Abs(ending-computed) > tolerance {
			markInconsistent(result, "ending_balance")
		}
	}

	total, hasTotal := get("total_commitment")
	drawn, hasDrawn := get("drawn_commitment")
	unfunded, hasUnfunded := get("unfunded_commitment")
	if hasTotal && hasDrawn && hasUnfunded {
		computed := total - drawn
		tolerance := math.Max(total*c.tol.CommitmentPct, c.tol.CommitmentAbs)
		if math.Abs(unfunded-computed) > tolerance {
			markInconsistent(result, "unfunded_commitment")
		}
	}

	for _, name := range []string{"contributions_period", "distributions_period", "management_fees_period",
		"partnership_expenses_period", "total_commitment", "drawn_commitment", "unfunded_commitment"} {
		if v, ok := get(name); ok && v < 0 {
			markInconsistent(result, name)
		}
	}

	c.validateDateSanity(docID, result)
}

func (c *Chain) validateDateSanity(docID string, result *Result) {
	field, ok := result.Fields["as_of_date"]
	if !ok {
		return
	}
	if field.DateValue.After(time.Now()) || field.DateValue.Year() < 1990 {
		markInconsistent(result, "as_of_date")
	}
}

func markInconsistent(result *Result, fieldName string) {
	field, ok := result.Fields[fieldName]
	if !ok {
		return
	}
	field.ValidationStatus = model.ValidationInconsistent
	result.Fields[fieldName] = field
	for i := range result.Audits {
		if result.Audits[i].FieldName == fieldName {
			result.Audits[i].ValidationStatus = model.ValidationInconsistent
		}
	}
}

func weightedMeanConfidence(fields map[string]ExtractedField) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fields {
		sum += f.Confidence
	}
	return sum / float64(len(fields))
}

func auditFor(docID string, field ExtractedField) model.FieldAudit {
	return model.FieldAudit{
		DocID:            docID,
		FieldName:        field.Name,
		RawValue:         field.RawValue,
		NormalizedValue:  field.NormalizedValue,
		ExtractorTag:     field.ExtractorTag,
		Confidence:       field.Confidence,
		ValidationStatus: field.ValidationStatus,
	}
}
