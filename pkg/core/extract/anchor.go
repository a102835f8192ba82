package extract

import (
	"regexp"
	"strings"
)

// anchorValuePattern captures a value following a label and one or more
// separator characters (":", "=", or whitespace), stopping at a newline.
var anchorValuePattern = regexp.MustCompile(`[:\s=]+([^\n]+)`)

// anchorCandidate is one label match found in the source text.
type anchorCandidate struct {
	rawValue string
	verbatim bool // the matched span appears unmodified in the source
}

// findAnchor scans text for the first occurrence of any alias (case
// insensitive) and returns the text following it on the same line.
func findAnchor(text string, aliases []string) (anchorCandidate, bool) {
	lower := strings.ToLower(text)
	bestIdx := -1
	var bestAlias string
	for _, alias := range aliases {
		idx := strings.Index(lower, strings.ToLower(alias))
		if idx == -1 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx {
			bestIdx = idx
			bestAlias = alias
		}
	}
	if bestIdx == -1 {
		return anchorCandidate{}, false
	}

	rest := text[bestIdx+len(bestAlias):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	m := anchorValuePattern.FindStringSubmatch(rest)
	if m == nil {
		return anchorCandidate{}, false
	}
	value := strings.TrimSpace(m[1])
	if value == "" {
		return anchorCandidate{}, false
	}
	return anchorCandidate{rawValue: value, verbatim: strings.Contains(text, value)}, true
}

// anchorExtractAll applies findAnchor for every field in the catalog
// against the full document text, the Anchor + Regex extractor of §4.6
// step 1.
func anchorExtractAll(specs []FieldSpec, text string) map[string]anchorCandidate {
	out := make(map[string]anchorCandidate)
	for _, spec := range specs {
		if cand, ok := findAnchor(text, spec.Aliases); ok {
			out[spec.Name] = cand
		}
	}
	return out
}
