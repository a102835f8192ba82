package parser

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"

	"pe_ingest/pkg/pkgerrors"
)

// PDFParser extracts the text layer page by page. It does not extract
// tables: ParsedDoc.Tables stays empty for a PDF, and the
// Table-structure extractor (C6) instead relies on XLSX tables and on the
// Anchor/Regex and LLM extractors for PDF content. If the primary
// page-by-page pass fails outright, a secondary whole-document text-only
// extraction is tried before giving up, per the fallback rule in §4.4.
type PDFParser struct{}

func (p *PDFParser) Parse(path string) (ParsedDoc, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return ParsedDoc{}, pkgerrors.Wrap(pkgerrors.ParseError, "", "opening pdf", err)
	}
	defer f.Close()

	doc := ParsedDoc{Metadata: map[string]string{"format": "pdf"}}

	fontCache := make(map[string]*pdf.Font)
	numPages := r.NumPage()
	doc.Metadata["page_count"] = strconv.Itoa(numPages)

	anyPageOK := false
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		text, perr := page.GetPlainText(fontCache)
		if perr != nil {
			continue
		}
		anyPageOK = true
		doc.Pages = append(doc.Pages, Page{No: i, Text: text})
	}

	if !anyPageOK && numPages > 0 {
		// Primary per-page pass produced nothing usable; fall back to the
		// whole-document reader, marking tables empty per §4.4.
		text, ferr := fallbackWholeDocText(r)
		if ferr != nil {
			return ParsedDoc{}, pkgerrors.Wrap(pkgerrors.ParseError, "", "pdf text extraction failed on both passes", ferr)
		}
		doc.Pages = []Page{{No: 1, Text: text}}
		doc.Metadata["fallback_extractor"] = "true"
	}

	return doc, nil
}

func fallbackWholeDocText(r *pdf.Reader) (string, error) {
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading fallback text: %w", err)
	}
	return buf.String(), nil
}
