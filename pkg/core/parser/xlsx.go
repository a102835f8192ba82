package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"pe_ingest/pkg/pkgerrors"
)

// maxSummaryRows bounds how many data rows feed the derived text summary
// per sheet, keeping the Classifier/ExtractorChain's text excerpt small
// even for large workbooks.
const maxSummaryRows = 20

// XLSXParser reads every sheet of a workbook into one Table each, plus a
// derived text representation concatenating headers, the first N rows, and
// a describe-style numeric summary (count/sum/mean per numeric column),
// per §4.4.
type XLSXParser struct{}

func (x *XLSXParser) Parse(path string) (ParsedDoc, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return ParsedDoc{}, pkgerrors.Wrap(pkgerrors.ParseError, "", "opening xlsx", err)
	}
	defer f.Close()

	doc := ParsedDoc{Metadata: map[string]string{"format": "xlsx"}}

	for pageNo, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		headers := rows[0]
		dataRows := rows[1:]

		doc.Tables = append(doc.Tables, Table{
			Page:    pageNo + 1,
			Headers: headers,
			Rows:    dataRows,
		})

		text := describeSheet(sheet, headers, dataRows)
		doc.Pages = append(doc.Pages, Page{No: pageNo + 1, Text: text})
	}

	if len(doc.Pages) == 0 {
		return ParsedDoc{}, pkgerrors.New(pkgerrors.ParseError, "", "workbook contains no readable sheets")
	}

	return doc, nil
}

// describeSheet builds the text representation: sheet name, headers, up
// to maxSummaryRows data rows, then a per-column numeric summary in the
// style of a dataframe .describe() call.
func describeSheet(sheet string, headers []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sheet: %s\n", sheet)
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(headers, " | "))

	limit := len(rows)
	if limit > maxSummaryRows {
		limit = maxSummaryRows
	}
	for _, row := range rows[:limit] {
		b.WriteString(strings.Join(row, " | "))
		b.WriteByte('\n')
	}

	for col, header := range headers {
		values := columnFloats(rows, col)
		if len(values) == 0 {
			continue
		}
		sum, min, max := 0.0, values[0], values[0]
		for _, v := range values {
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		mean := sum / float64(len(values))
		fmt.Fprintf(&b, "%s: count=%d sum=%.2f mean=%.2f min=%.2f max=%.2f\n",
			header, len(values), sum, mean, min, max)
	}

	return b.String()
}

func columnFloats(rows [][]string, col int) []float64 {
	var out []float64
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		cleaned := strings.NewReplacer(",", "", "$", "", "%", "", " ", "").Replace(row[col])
		if cleaned == "" {
			continue
		}
		v, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
