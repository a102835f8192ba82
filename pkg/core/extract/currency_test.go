package extract

import "testing"

func TestParseCurrencyValueLocaleDisambiguation(t *testing.T) {
	cases := map[string]float64{
		"1,234.56": 1234.56,
		"1.234,56": 1234.56,
		"1234":     1234,
		"1,234":    1234,
		"$1,234.56": 1234.56,
		"€1.234,56": 1234.56,
		"(500.00)": -500,
	}
	for in, want := range cases {
		got, err := ParseCurrencyValue(in)
		if err != nil {
			t.Errorf("ParseCurrencyValue(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseCurrencyValue(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseCurrencyValueRejectsGarbage(t *testing.T) {
	if _, err := ParseCurrencyValue("not a number"); err == nil {
		t.Fatalf("expected an error")
	}
	if _, err := ParseCurrencyValue(""); err == nil {
		t.Fatalf("expected an error for empty input")
	}
}
