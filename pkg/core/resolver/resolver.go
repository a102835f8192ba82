// Package resolver implements the Normalizer/Resolver component (C7):
// canonicalizing extracted strings into currency codes and ISO dates, and
// resolving Investor/Fund/Period identities. It never talks to storage
// directly — callers (the pipeline's document assembly) supply the candidate set to match
// against and persist whatever the Resolver decides.
package resolver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hbollon/go-edlib"

	"pe_ingest/pkg/model"
)

// FundMatchThreshold is the minimum Jaro-Winkler similarity at which an
// extracted fund name is accepted as matching an existing Fund, per §4.7.
const FundMatchThreshold = 0.90

// currencyAliases maps common textual variants to ISO-4217 codes, per
// §4.7 and original_source/app/pe_docs/resolver.py::resolve_currency.
var currencyAliases = map[string]string{
	"EURO":   "EUR",
	"EUROS":  "EUR",
	"€":      "EUR",
	"DOLLAR": "USD",
	"DOLLARS": "USD",
	"$":      "USD",
	"US$":    "USD",
	"POUND":  "GBP",
	"POUNDS": "GBP",
	"£":      "GBP",
}

// AuditEvent is returned alongside a resolved value when the Resolver
// wants the caller to record a FieldAudit entry (e.g. an unknown currency
// defaulted to the reporting currency).
type AuditEvent struct {
	Severity model.Severity
	Message  string
}

// ResolveCurrency normalizes a raw currency string to an ISO-4217 code.
// Unknown codes default to reportingCurrency with a Medium-severity audit
// event, per §4.7.
func ResolveCurrency(raw, reportingCurrency string) (string, *AuditEvent) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return reportingCurrency, &AuditEvent{Severity: model.SeverityMedium, Message: "currency missing; defaulted to reporting currency"}
	}
	if mapped, ok := currencyAliases[trimmed]; ok {
		return mapped, nil
	}
	if len(trimmed) == 3 && isAllAlpha(trimmed) {
		return trimmed, nil
	}
	return reportingCurrency, &AuditEvent{Severity: model.SeverityMedium, Message: fmt.Sprintf("unrecognized currency %q; defaulted to reporting currency", raw)}
}

func isAllAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// dateLayouts is the fixed sequence of accepted input formats, tried in
// order; the first successful parse wins.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02-01-2006",
	"2006/01/02",
	"Dec 31, 2006",
}

// ParseDate accepts any of several common formats and returns an ISO
// calendar date (time truncated to midnight UTC).
func ParseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("resolver: could not parse date %q", raw)
}

// MonthEnd returns the last calendar day of t's month, per §3's Period
// definition and original_source's resolve_period_id.
func MonthEnd(t time.Time) time.Time {
	firstOfNextMonth := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNextMonth.AddDate(0, 0, -1)
}

// PeriodIDFor returns the canonical period id (ISO month-end date string)
// for an as-of date.
func PeriodIDFor(asOfDate time.Time) string {
	return MonthEnd(asOfDate).Format("2006-01-02")
}

// quarterMonthEnd maps a quarter number to its closing month, for
// ParseQuarterFromFilename's as_of_date fallback when extraction finds no
// explicit date, per §4.6.
var quarterMonthEnd = map[int]time.Month{1: time.March, 2: time.June, 3: time.September, 4: time.December}

// ParseQuarterFromFilename extracts a quarter/year token from a filename
// and returns the corresponding month-end date, e.g. "Q2 2025" ->
// 2025-06-30.
func ParseQuarterFromFilename(filename string) (time.Time, bool) {
	upper := strings.ToUpper(filename)
	for q := 1; q <= 4; q++ {
		qLabel := fmt.Sprintf("Q%d", q)
		idx := strings.Index(upper, qLabel)
		if idx == -1 {
			continue
		}
		rest := upper[idx+len(qLabel):]
		year, ok := extractFourDigitYear(rest)
		if !ok {
			// try year immediately before the quarter token, e.g. "2025Q2"
			before := upper[:idx]
			year, ok = extractFourDigitYear(reverseDigitsTail(before))
			if !ok {
				continue
			}
		}
		month := quarterMonthEnd[q]
		return MonthEnd(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)), true
	}
	return time.Time{}, false
}

func extractFourDigitYear(s string) (int, bool) {
	digits := ""
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits += string(r)
			if len(digits) == 4 {
				break
			}
		} else if digits != "" {
			break
		}
	}
	if len(digits) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(digits)
	if err != nil || year < 1990 || year > 2100 {
		return 0, false
	}
	return year, true
}

func reverseDigitsTail(s string) string {
	// Take the last 4 characters before a quarter token, which is where a
	// leading "2025Q2" style year would sit.
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return s
}

// FundMatch is the outcome of resolving an extracted fund name against a
// set of existing Funds for the same investor.
type FundMatch struct {
	Matched    bool
	FundRef    string
	Similarity float64
}

// ResolveFund performs case-insensitive Jaro-Winkler matching of name
// against candidates (Funds already scoped to the resolved Investor),
// accepting a match at similarity >= FundMatchThreshold. When no candidate
// matches, the caller should create a new Fund using GenerateFundCode.
func ResolveFund(name string, candidates []model.Fund) FundMatch {
	name = strings.ToLower(strings.TrimSpace(name))
	best := FundMatch{}
	for _, cand := range candidates {
		sim, err := edlib.StringsSimilarity(name, strings.ToLower(cand.Name), edlib.JaroWinkler)
		if err != nil {
			continue
		}
		s := float64(sim)
		if s > best.Similarity {
			best = FundMatch{FundRef: cand.FundRef, Similarity: s}
		}
	}
	if best.Similarity >= FundMatchThreshold {
		best.Matched = true
	}
	return best
}

// GenerateFundCode derives a fund code from initials of the fund's name
// words (or the first letters of the name when there are fewer than 3
// words), padding with "X" to a minimum length of 3 and resolving collisions with a
// numeric suffix, per original_source's _generate_fund_code.
func GenerateFundCode(fundName string, existingCodes map[string]bool) string {
	words := strings.Fields(strings.ToUpper(fundName))
	var initials strings.Builder
	for _, w := range words {
		for _, r := range w {
			if r >= 'A' && r <= 'Z' {
				initials.WriteRune(r)
				break
			}
		}
	}
	code := initials.String()
	if len(code) < 3 {
		upper := strings.ToUpper(strings.ReplaceAll(fundName, " ", ""))
		if len(upper) > 3 {
			upper = upper[:3]
		}
		code = upper
	}
	for len(code) < 3 {
		code += "X"
	}
	if len(code) > 10 {
		code = code[:10]
	}

	base := code
	final := base
	counter := 1
	for existingCodes[final] {
		final = fmt.Sprintf("%s%02d", base, counter)
		counter++
	}
	return final
}

// ResolveInvestor trusts the discovery path's investor_code over any
// extracted investor name. When the extracted name looks materially
// different from what the investor_code implies, the caller should record
// a Low-severity audit entry; ResolveInvestor reports that mismatch but
// always returns the trusted code.
func ResolveInvestor(pathInvestorCode, extractedName string) (investorCode string, audit *AuditEvent) {
	if extractedName == "" {
		return pathInvestorCode, nil
	}
	sim, err := edlib.StringsSimilarity(strings.ToLower(pathInvestorCode), strings.ToLower(extractedName), edlib.JaroWinkler)
	if err == nil && float64(sim) < FundMatchThreshold {
		return pathInvestorCode, &AuditEvent{
			Severity: model.SeverityLow,
			Message:  fmt.Sprintf("extracted investor name %q does not closely match path investor_code %q; path wins", extractedName, pathInvestorCode),
		}
	}
	return pathInvestorCode, nil
}

// ValidateNAVObservation applies the basic sanity rules from §8/§4.6:
// positive value, date not in the future, date year >= 1990.
func ValidateNAVObservation(value float64, asOfDate time.Time) error {
	if value <= 0 {
		return fmt.Errorf("resolver: nav value must be positive, got %v", value)
	}
	if asOfDate.After(time.Now()) {
		return fmt.Errorf("resolver: as_of_date %s is in the future", asOfDate.Format("2006-01-02"))
	}
	if asOfDate.Year() < 1990 {
		return fmt.Errorf("resolver: as_of_date year %d is before 1990", asOfDate.Year())
	}
	return nil
}

// ValidateCashflow applies the Cashflow entity's non-negativity and
// flow_type enumeration invariants from §3.
func ValidateCashflow(flowType model.FlowType, amount float64, flowDate time.Time) error {
	switch flowType {
	case model.FlowCall, model.FlowDistribution, model.FlowFee, model.FlowTax, model.FlowOther:
	default:
		return fmt.Errorf("resolver: invalid flow_type %q", flowType)
	}
	if amount < 0 {
		return fmt.Errorf("resolver: cashflow amount must be non-negative, got %v", amount)
	}
	if flowDate.After(time.Now()) {
		return fmt.Errorf("resolver: flow_date %s is in the future", flowDate.Format("2006-01-02"))
	}
	if flowDate.Year() < 1990 {
		return fmt.Errorf("resolver: flow_date year %d is before 1990", flowDate.Year())
	}
	return nil
}
