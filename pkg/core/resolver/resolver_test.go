package resolver

import (
	"testing"
	"time"

	"pe_ingest/pkg/model"
)

func TestResolveCurrencyAliases(t *testing.T) {
	cases := map[string]string{
		"Euro":    "EUR",
		"EUROS":   "EUR",
		"dollar":  "USD",
		"Pounds":  "GBP",
		"usd":     "USD",
		"eur":     "EUR",
	}
	for in, want := range cases {
		got, audit := ResolveCurrency(in, "USD")
		if got != want {
			t.Errorf("ResolveCurrency(%q) = %q, want %q", in, got, want)
		}
		if audit != nil {
			t.Errorf("ResolveCurrency(%q) unexpected audit: %+v", in, audit)
		}
	}
}

func TestResolveCurrencyUnknownDefaultsToReporting(t *testing.T) {
	got, audit := ResolveCurrency("Zorkmids", "EUR")
	if got != "EUR" {
		t.Errorf("got %q, want reporting currency EUR", got)
	}
	if audit == nil || audit.Severity != model.SeverityMedium {
		t.Errorf("expected a Medium severity audit event, got %+v", audit)
	}
}

func TestResolveCurrencyEmptyDefaultsToReporting(t *testing.T) {
	got, audit := ResolveCurrency("", "GBP")
	if got != "GBP" {
		t.Errorf("got %q, want GBP", got)
	}
	if audit == nil {
		t.Errorf("expected an audit event for missing currency")
	}
}

func TestParseDateFormats(t *testing.T) {
	cases := []string{
		"2025-06-30",
		"06/30/2025",
		"June 30, 2025",
		"Jun 30, 2025",
		"30 June 2025",
	}
	for _, in := range cases {
		got, err := ParseDate(in)
		if err != nil {
			t.Errorf("ParseDate(%q) error: %v", in, err)
			continue
		}
		if got.Year() != 2025 || got.Month() != time.June || got.Day() != 30 {
			t.Errorf("ParseDate(%q) = %v, want 2025-06-30", in, got)
		}
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, err := ParseDate("not a date"); err == nil {
		t.Fatalf("expected an error for unparseable input")
	}
}

func TestMonthEnd(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), "2025-02-28"},
		{time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC), "2024-02-29"}, // leap year
		{time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC), "2025-06-30"},
		{time.Date(2025, time.December, 5, 0, 0, 0, 0, time.UTC), "2025-12-31"},
	}
	for _, c := range cases {
		got := MonthEnd(c.in).Format("2006-01-02")
		if got != c.want {
			t.Errorf("MonthEnd(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestParseQuarterFromFilename(t *testing.T) {
	cases := []struct {
		name string
		want string
		ok   bool
	}{
		{"Fund_Q2_2025_Report.pdf", "2025-06-30", true},
		{"Fund Q4 2024.pdf", "2024-12-31", true},
		{"2025Q1_statement.xlsx", "2025-03-31", true},
		{"no_quarter_here.pdf", "", false},
	}
	for _, c := range cases {
		got, ok := ParseQuarterFromFilename(c.name)
		if ok != c.ok {
			t.Errorf("ParseQuarterFromFilename(%q) ok=%v, want %v", c.name, ok, c.ok)
			continue
		}
		if ok && got.Format("2006-01-02") != c.want {
			t.Errorf("ParseQuarterFromFilename(%q) = %s, want %s", c.name, got.Format("2006-01-02"), c.want)
		}
	}
}

func TestResolveFundMatchesAboveThreshold(t *testing.T) {
	candidates := []model.Fund{
		{FundRef: "f1", Name: "Acme Growth Fund III"},
		{FundRef: "f2", Name: "Beta Ventures II"},
	}
	match := ResolveFund("Acme Growth Fund III", candidates)
	if !match.Matched || match.FundRef != "f1" {
		t.Fatalf("expected exact match on f1, got %+v", match)
	}
}

func TestResolveFundNoMatchBelowThreshold(t *testing.T) {
	candidates := []model.Fund{
		{FundRef: "f1", Name: "Acme Growth Fund III"},
	}
	match := ResolveFund("Totally Unrelated Partners LP", candidates)
	if match.Matched {
		t.Fatalf("expected no match, got %+v", match)
	}
}

func TestGenerateFundCodeFromInitials(t *testing.T) {
	code := GenerateFundCode("Acme Growth Fund III", map[string]bool{})
	if code == "" {
		t.Fatalf("expected non-empty code")
	}
}

func TestGenerateFundCodePadsShortNames(t *testing.T) {
	code := GenerateFundCode("Ab", map[string]bool{})
	if len(code) < 3 {
		t.Errorf("expected code padded to at least 3 chars, got %q", code)
	}
}

func TestGenerateFundCodeResolvesCollisions(t *testing.T) {
	existing := map[string]bool{"AGF": true, "AGF01": true}
	code := GenerateFundCode("Acme Growth Fund", existing)
	if existing[code] {
		t.Fatalf("expected a non-colliding code, got %q which already exists", code)
	}
	if code != "AGF02" {
		t.Errorf("code = %q, want AGF02", code)
	}
}

func TestResolveInvestorTrustsPathCode(t *testing.T) {
	code, audit := ResolveInvestor("ACME01", "Completely Different Name Inc")
	if code != "ACME01" {
		t.Errorf("code = %q, want path-derived ACME01", code)
	}
	if audit == nil || audit.Severity != model.SeverityLow {
		t.Errorf("expected a Low severity mismatch audit, got %+v", audit)
	}
}

func TestResolveInvestorNoAuditWhenNamesAlign(t *testing.T) {
	code, audit := ResolveInvestor("ACME01", "ACME01")
	if code != "ACME01" {
		t.Errorf("code = %q, want ACME01", code)
	}
	if audit != nil {
		t.Errorf("expected no audit when names closely match, got %+v", audit)
	}
}

func TestValidateNAVObservation(t *testing.T) {
	now := time.Now().UTC()
	if err := ValidateNAVObservation(100.0, now.AddDate(0, -1, 0)); err != nil {
		t.Errorf("valid nav rejected: %v", err)
	}
	if err := ValidateNAVObservation(0, now); err == nil {
		t.Errorf("expected error for non-positive nav")
	}
	if err := ValidateNAVObservation(100.0, now.AddDate(0, 1, 0)); err == nil {
		t.Errorf("expected error for future date")
	}
	if err := ValidateNAVObservation(100.0, time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Errorf("expected error for pre-1990 date")
	}
}

func TestValidateCashflow(t *testing.T) {
	now := time.Now().UTC()
	if err := ValidateCashflow(model.FlowCall, 1000, now.AddDate(0, -1, 0)); err != nil {
		t.Errorf("valid cashflow rejected: %v", err)
	}
	if err := ValidateCashflow("BOGUS", 1000, now); err == nil {
		t.Errorf("expected error for invalid flow_type")
	}
	if err := ValidateCashflow(model.FlowDistribution, -5, now); err == nil {
		t.Errorf("expected error for negative amount")
	}
	if err := ValidateCashflow(model.FlowFee, 10, now.AddDate(1, 0, 0)); err == nil {
		t.Errorf("expected error for future flow_date")
	}
}
