// Package parser turns a raw file into a structured ParsedDoc of text
// pages, tables, and metadata. A Registry dispatches by file extension to
// one of three format-specific parsers (PDF, XLSX/XLS, CSV); every byte-
// level encoding issue is resolved inside the parser and never propagates
// past it except as a pkgerrors.EncodingIssue.
package parser

// Page is one unit of extracted free text, numbered from 1.
type Page struct {
	No   int
	Text string
}

// Table is one extracted tabular region: a sheet, a PDF table, or (for
// CSV) the whole file.
type Table struct {
	Page    int
	Headers []string
	Rows    [][]string
}

// ParsedDoc is the Parser's uniform output regardless of source format.
type ParsedDoc struct {
	Pages    []Page
	Tables   []Table
	Metadata map[string]string
}

// FullText concatenates every page's text, used by the Classifier's
// anchor pass and the ExtractorChain's text-excerpt budget.
func (p ParsedDoc) FullText() string {
	var out string
	for i, page := range p.Pages {
		if i > 0 {
			out += "\n"
		}
		out += page.Text
	}
	return out
}

// ExcerptPages returns the text of the first n pages joined by newlines,
// used where the spec bounds classifier/extractor input to "first 3
// pages" or a character budget.
func (p ParsedDoc) ExcerptPages(n int) string {
	var out string
	for i, page := range p.Pages {
		if i >= n {
			break
		}
		if i > 0 {
			out += "\n"
		}
		out += page.Text
	}
	return out
}

// Parser converts one file's bytes into a ParsedDoc.
type Parser interface {
	Parse(path string) (ParsedDoc, error)
}

// Registry dispatches Parse calls to the Parser registered for a file's
// extension, mirroring the teacher's extension-keyed factory pattern.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry builds a Registry with the standard PDF/XLSX/XLS/CSV parsers
// wired in.
func NewRegistry() *Registry {
	xlsx := &XLSXParser{}
	r := &Registry{byExt: make(map[string]Parser)}
	r.byExt[".pdf"] = &PDFParser{}
	r.byExt[".xlsx"] = xlsx
	r.byExt[".xls"] = xlsx
	r.byExt[".csv"] = &CSVParser{}
	return r
}

// Register overrides or adds a Parser for an extension (lowercase,
// including the leading dot), primarily for tests.
func (r *Registry) Register(ext string, p Parser) {
	r.byExt[ext] = p
}

// For returns the Parser registered for ext, or nil if unsupported.
func (r *Registry) For(ext string) Parser {
	return r.byExt[ext]
}
