package parser

import (
	"bytes"
	"encoding/csv"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"pe_ingest/pkg/pkgerrors"
)

// csvEncodings is the fixed fallback sequence from §4.4: the first decode
// that both succeeds and produces valid UTF-8 wins.
var csvEncodings = []struct {
	name string
	enc  encoding.Encoding // nil means "already UTF-8, no transform"
}{
	{"utf-8", nil},
	{"latin1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
}

// CSVParser decodes a CSV file trying UTF-8, then Latin-1, then CP-1252,
// taking the first successful decode. The whole file becomes one Table;
// its row-joined text is also exposed as a single Page for anchor
// matching.
type CSVParser struct{}

func (c *CSVParser) Parse(path string) (ParsedDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ParsedDoc{}, pkgerrors.Wrap(pkgerrors.Transient, "", "reading csv", err)
	}

	var decoded []byte
	var usedEncoding string
	for _, candidate := range csvEncodings {
		text, ok := tryDecode(raw, candidate.enc)
		if ok {
			decoded = text
			usedEncoding = candidate.name
			break
		}
	}
	if decoded == nil {
		return ParsedDoc{}, pkgerrors.New(pkgerrors.EncodingIssue, "", "csv: no candidate encoding produced valid UTF-8")
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1 // tolerate ragged rows rather than failing the whole file
	records, err := reader.ReadAll()
	if err != nil {
		return ParsedDoc{}, pkgerrors.Wrap(pkgerrors.ParseError, "", "parsing csv", err)
	}
	if len(records) == 0 {
		return ParsedDoc{}, pkgerrors.New(pkgerrors.ParseError, "", "csv: no rows")
	}

	headers := records[0]
	rows := records[1:]

	doc := ParsedDoc{
		Metadata: map[string]string{"format": "csv", "encoding": usedEncoding},
		Tables:   []Table{{Page: 1, Headers: headers, Rows: rows}},
	}

	var text bytes.Buffer
	text.WriteString(joinRow(headers))
	for _, row := range rows {
		text.WriteByte('\n')
		text.WriteString(joinRow(row))
	}
	doc.Pages = []Page{{No: 1, Text: text.String()}}

	return doc, nil
}

func joinRow(fields []string) string {
	var b bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(f)
	}
	return b.String()
}

// tryDecode applies enc (nil for no-op) and reports whether the result is
// valid UTF-8.
func tryDecode(raw []byte, enc encoding.Encoding) ([]byte, bool) {
	if enc == nil {
		if utf8.Valid(raw) {
			return raw, true
		}
		return nil, false
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, false
	}
	if !utf8.Valid(decoded) {
		return nil, false
	}
	return decoded, true
}
