package extract

import (
	"testing"

	"pe_ingest/pkg/core/parser"
)

func TestTableExtractAllHeaderMatch(t *testing.T) {
	specs := []FieldSpec{
		{Name: "ending_balance", Kind: KindCurrency, Aliases: []string{"ending balance", "nav"}},
	}
	tables := []parser.Table{
		{
			Headers: []string{"Beginning Balance", "Ending Balance"},
			Rows:    [][]string{{"35,000,000", "40,700,000"}},
		},
	}
	out := tableExtractAll(specs, tables)
	cand, ok := out["ending_balance"]
	if !ok {
		t.Fatalf("expected a match on header alias")
	}
	if cand.rawValue != "40,700,000" {
		t.Errorf("rawValue = %q, want 40,700,000", cand.rawValue)
	}
	if !cand.aliasHit {
		t.Errorf("expected aliasHit true")
	}
}

func TestTableExtractAllLabelValueRows(t *testing.T) {
	specs := []FieldSpec{
		{Name: "total_commitment", Kind: KindCurrency, Aliases: []string{"total commitment"}},
	}
	tables := []parser.Table{
		{
			Headers: []string{"Field", "Value"},
			Rows: [][]string{
				{"Total Commitment", "10,000,000"},
				{"Drawn Commitment", "6,000,000"},
			},
		},
	}
	out := tableExtractAll(specs, tables)
	cand, ok := out["total_commitment"]
	if !ok || cand.rawValue != "10,000,000" {
		t.Fatalf("expected label/value match, got %+v ok=%v", cand, ok)
	}
}

func TestTableExtractAllNoMatch(t *testing.T) {
	specs := []FieldSpec{{Name: "ending_balance", Kind: KindCurrency, Aliases: []string{"ending balance"}}}
	tables := []parser.Table{{Headers: []string{"Unrelated"}, Rows: [][]string{{"1"}}}}
	out := tableExtractAll(specs, tables)
	if _, ok := out["ending_balance"]; ok {
		t.Fatalf("expected no match")
	}
}
