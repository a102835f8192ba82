package extract

import (
	"strings"

	"pe_ingest/pkg/core/parser"
)

// tableCandidate is one field value pulled from a table's aligned cell.
type tableCandidate struct {
	rawValue  string
	aliasHit  bool // the matching header text is itself a catalog alias
}

// tableExtractAll implements §4.6 step 2: when a Table's header matches a
// known label set, pull the value from the aligned cell of the first data
// row whose cell in that column is non-empty. Tables are expected to be label/value pairs (two columns) or a
// header row whose column name is itself the field label.
func tableExtractAll(specs []FieldSpec, tables []parser.Table) map[string]tableCandidate {
	out := make(map[string]tableCandidate)
	for _, spec := range specs {
		if _, found := out[spec.Name]; found {
			continue
		}
		for _, tbl := range tables {
			if cand, ok := matchTable(spec, tbl); ok {
				out[spec.Name] = cand
				break
			}
		}
	}
	return out
}

func matchTable(spec FieldSpec, tbl parser.Table) (tableCandidate, bool) {
	for colIdx, header := range tbl.Headers {
		aliasHit := headerMatchesAlias(header, spec.Aliases)
		if !aliasHit {
			continue
		}
		for _, row := range tbl.Rows {
			if colIdx < len(row) && strings.TrimSpace(row[colIdx]) != "" {
				return tableCandidate{rawValue: strings.TrimSpace(row[colIdx]), aliasHit: true}, true
			}
		}
	}

	// Label/value row pairs: first column is the label, second the value.
	for _, row := range tbl.Rows {
		if len(row) < 2 {
			continue
		}
		if headerMatchesAlias(row[0], spec.Aliases) && strings.TrimSpace(row[1]) != "" {
			return tableCandidate{rawValue: strings.TrimSpace(row[1]), aliasHit: true}, true
		}
	}
	return tableCandidate{}, false
}

func headerMatchesAlias(header string, aliases []string) bool {
	h := strings.ToLower(strings.TrimSpace(header))
	for _, a := range aliases {
		if strings.Contains(h, strings.ToLower(a)) {
			return true
		}
	}
	return false
}
