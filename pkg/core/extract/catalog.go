package extract

import "pe_ingest/pkg/model"

// FieldSpec describes one catalog field: its canonical name, the labels an
// anchor/table extractor should look for (multilingual), and whether it is
// a currency amount, a date, or a free-form string.
type FieldSpec struct {
	Name    string
	Kind    FieldKind
	Aliases []string // EN/DE/ES labels, lowercase
}

// FieldKind tells the chain how to normalize a raw matched string.
type FieldKind string

const (
	KindCurrency FieldKind = "currency"
	KindDate     FieldKind = "date"
	KindString   FieldKind = "string"
)

// catalogs is keyed by DocType; CapitalAccountStatement carries the full
// field set described in §4.6, other types a smaller subset grounded on
// original_source's field_context aliases.
var catalogs = map[model.DocType][]FieldSpec{
	model.DocCapitalAccountStatement: {
		{"as_of_date", KindDate, []string{"as of date", "reporting date", "statement date", "as at", "stand", "fecha"}},
		{"beginning_balance", KindCurrency, []string{"beginning balance", "opening balance", "prior balance", "anfangsbestand", "saldo inicial"}},
		{"ending_balance", KindCurrency, []string{"ending balance", "closing balance", "net asset value", "nav", "endbestand", "saldo final"}},
		{"contributions_period", KindCurrency, []string{"contributions", "capital calls", "paid in capital", "einzahlungen", "aportaciones"}},
		{"distributions_period", KindCurrency, []string{"distributions", "payouts", "ausschüttungen", "distribuciones"}},
		{"distributions_recallable", KindCurrency, []string{"recallable distributions", "recyclable distributions"}},
		{"distributions_non_recallable", KindCurrency, []string{"non-recallable distributions", "non-recyclable distributions"}},
		{"management_fees_period", KindCurrency, []string{"management fees", "verwaltungsgebühren", "comisiones de gestión"}},
		{"partnership_expenses_period", KindCurrency, []string{"partnership expenses", "fund expenses", "gesellschaftskosten", "gastos de la sociedad"}},
		{"realized_gain_loss_period", KindCurrency, []string{"realized gain", "realized loss", "realized gain/(loss)", "realisierter gewinn"}},
		{"unrealized_gain_loss_period", KindCurrency, []string{"unrealized gain", "unrealized loss", "unrealized gain/(loss)", "unrealisierter gewinn"}},
		{"total_commitment", KindCurrency, []string{"total commitment", "kapitalzusage", "compromiso total"}},
		{"drawn_commitment", KindCurrency, []string{"drawn commitment", "paid-in commitment", "abgerufene zusage"}},
		{"unfunded_commitment", KindCurrency, []string{"unfunded commitment", "remaining commitment", "nicht abgerufene zusage"}},
		{"reporting_currency", KindString, []string{"reporting currency", "ccy", "währung", "moneda"}},
		{"investor_name", KindString, []string{"investor", "limited partner", "lp name", "investor name"}},
		{"fund_name", KindString, []string{"fund", "fund name", "partnership"}},
	},
	model.DocQuarterlyReport: {
		{"as_of_date", KindDate, []string{"as of date", "reporting date", "quarter ended", "stand", "fecha"}},
		{"fund_name", KindString, []string{"fund", "fund name"}},
		{"reporting_currency", KindString, []string{"reporting currency", "ccy", "währung", "moneda"}},
	},
	model.DocAnnualReport: {
		{"as_of_date", KindDate, []string{"as of date", "fiscal year ended", "year ended"}},
		{"fund_name", KindString, []string{"fund", "fund name"}},
		{"reporting_currency", KindString, []string{"reporting currency", "ccy"}},
	},
	model.DocCapitalCallNotice: {
		{"as_of_date", KindDate, []string{"call date", "due date", "notice date"}},
		{"fund_name", KindString, []string{"fund", "fund name"}},
		{"investor_name", KindString, []string{"investor", "limited partner"}},
		{"contributions_period", KindCurrency, []string{"call amount", "capital call amount", "kapitalabruf"}},
	},
	model.DocDistributionNotice: {
		{"as_of_date", KindDate, []string{"distribution date", "notice date"}},
		{"fund_name", KindString, []string{"fund", "fund name"}},
		{"investor_name", KindString, []string{"investor", "limited partner"}},
		{"distributions_period", KindCurrency, []string{"distribution amount", "ausschüttungsbetrag"}},
	},
	model.DocLPA: {
		{"fund_name", KindString, []string{"fund", "partnership", "fund name"}},
	},
	model.DocPPM: {
		{"fund_name", KindString, []string{"fund", "fund name"}},
	},
	model.DocSubscription: {
		{"investor_name", KindString, []string{"investor", "subscriber"}},
		{"fund_name", KindString, []string{"fund", "fund name"}},
	},
}

// CatalogFor returns the field specs for a DocType, or nil for Other (no
// structured extraction is attempted for unclassified documents).
func CatalogFor(dt model.DocType) []FieldSpec {
	return catalogs[dt]
}

// CatalogNames returns just the field names, the shape the LLM field
// matcher expects.
func CatalogNames(specs []FieldSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}
