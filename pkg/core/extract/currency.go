package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// currencySymbolStrip removes currency symbols and whitespace before
// numeric parsing, per original_source's _validate_currency.
var currencySymbolStrip = regexp.MustCompile(`[€$£\s]`)

// thousandsGroup matches a comma-grouped integer tail like ",234" or
// ",234,567" used to disambiguate "1,234" (thousands) from "1,23" (decimal).
var thousandsGroup = regexp.MustCompile(`^(\d{1,3})(,\d{3})+$`)

// ParseCurrencyValue parses a raw numeric string with locale-aware decimal
// disambiguation, per §4.6: if both ',' and '.' are present, the rightmost
// separator is the decimal point; if only ',' is present and it sits in a
// three-digit grouping pattern, it is a thousands separator, otherwise a
// decimal comma.
func ParseCurrencyValue(raw string) (float64, error) {
	cleaned := currencySymbolStrip.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("extract: empty currency value")
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	var normalized string
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			// European: '.' is thousands, ',' is decimal.
			normalized = strings.ReplaceAll(cleaned, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			// US: ',' is thousands, '.' is decimal.
			normalized = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma && !hasDot:
		if thousandsGroup.MatchString(cleaned) {
			normalized = strings.ReplaceAll(cleaned, ",", "")
		} else {
			// A single comma not in a three-digit grouping is a decimal comma.
			normalized = strings.ReplaceAll(cleaned, ",", ".")
		}
	default:
		normalized = cleaned
	}

	val, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("extract: could not parse currency value %q: %w", raw, err)
	}
	if negative {
		val = -val
	}
	return val, nil
}
