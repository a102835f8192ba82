package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pe_ingest/pkg/config"
	"pe_ingest/pkg/core/classifier"
	"pe_ingest/pkg/core/extract"
	"pe_ingest/pkg/core/indexer"
	"pe_ingest/pkg/core/ledger"
	"pe_ingest/pkg/core/parser"
	"pe_ingest/pkg/core/persistence"
	"pe_ingest/pkg/core/reconcile"
	"pe_ingest/pkg/logging"
	"pe_ingest/pkg/metricsreg"
	"pe_ingest/pkg/model"
)

// fakeParser returns a fixed ParsedDoc for every path, so tests never
// touch a real PDF/XLSX decoder.
type fakeParser struct {
	doc parser.ParsedDoc
	err error
}

func (f *fakeParser) Parse(path string) (parser.ParsedDoc, error) {
	return f.doc, f.err
}

// fakeWriter records every DocumentWrite handed to Persist and can be
// configured to simulate a duplicate doc_id conflict.
type fakeWriter struct {
	mu       sync.Mutex
	writes   []persistence.DocumentWrite
	dupDocID string
}

func (f *fakeWriter) Persist(ctx context.Context, dw persistence.DocumentWrite) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dupDocID != "" && dw.Document.DocID == f.dupDocID {
		return "", "", persistence.ErrDuplicateDocument
	}
	f.writes = append(f.writes, dw)
	return dw.Investor.InvestorRef, dw.Fund.FundRef, nil
}

// fakeReader answers every lookup with "nothing exists yet" by default;
// tests override individual fields to seed existing investors/funds.
type fakeReader struct {
	investors map[string]model.Investor
	funds     map[string][]model.Fund
}

func newFakeReader() *fakeReader {
	return &fakeReader{investors: map[string]model.Investor{}, funds: map[string][]model.Fund{}}
}

func (f *fakeReader) InvestorByCode(ctx context.Context, code string) (model.Investor, bool, error) {
	inv, ok := f.investors[code]
	return inv, ok, nil
}

func (f *fakeReader) FundsForInvestor(ctx context.Context, investorRef string) ([]model.Fund, error) {
	return f.funds[investorRef], nil
}

func (f *fakeReader) ExistingFundCodes(ctx context.Context, investorRef string) (map[string]bool, error) {
	codes := map[string]bool{}
	for _, fund := range f.funds[investorRef] {
		codes[fund.FundCode] = true
	}
	return codes, nil
}

func (f *fakeReader) NAVSourcesFor(ctx context.Context, fundRef string, asOfDate time.Time) ([]reconcile.NAVSource, error) {
	return nil, nil
}

func (f *fakeReader) RecentCashflowPeriods(ctx context.Context, fundRef string, n int) ([]reconcile.PeriodCashflow, error) {
	return nil, nil
}

func (f *fakeReader) CashflowEventsFor(ctx context.Context, fundRef string) ([]reconcile.CashflowEvent, error) {
	return nil, nil
}

func (f *fakeReader) PerformanceInputFor(ctx context.Context, fundRef string, asOfDate time.Time) (reconcile.PerformanceInput, error) {
	return reconcile.PerformanceInput{}, nil
}

func (f *fakeReader) CommitmentRowsFor(ctx context.Context, fundRef string, asOfDate time.Time) ([]reconcile.CommitmentRow, error) {
	return nil, nil
}

// fakeIndexer records Index calls instead of touching a VectorIndex.
type fakeIndexer struct {
	mu    sync.Mutex
	calls []indexer.ChunkInput
	done  chan struct{}
}

func (f *fakeIndexer) Index(ctx context.Context, hash string, input indexer.ChunkInput) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
}

func testLogger(t *testing.T) (*logging.Logger, *metricsreg.Registry) {
	t.Helper()
	return logging.New(logging.Options{Service: "test"}), metricsreg.NewWithRegistry(t.Name(), prometheus.NewRegistry())
}

// capitalAccountDoc builds a ParsedDoc that the anchor extractor resolves
// decisively to CapitalAccountStatement and every catalog field filled in,
// mirroring pkg/core/extract's own fixture.
func capitalAccountDoc() parser.ParsedDoc {
	return parser.ParsedDoc{Pages: []parser.Page{{No: 1, Text: "" +
		"Statement of Capital Account\n" +
		"Investor: Example Capital LP\n" +
		"Fund: Example Growth Fund III\n" +
		"As of Date: 2025-06-30\n" +
		"Beginning Balance: $35,000,000\n" +
		"Ending Balance: $40,700,000\n" +
		"Contributions: $5,000,000\n" +
		"Distributions: $0\n" +
		"Management Fees: $300,000\n" +
		"Partnership Expenses: $0\n" +
		"Realized Gain: $0\n" +
		"Unrealized Gain: $1,000,000\n" +
		"Total Commitment: $50,000,000\n" +
		"Drawn Commitment: $40,000,000\n" +
		"Unfunded Commitment: $10,000,000\n" +
		"Reporting Currency: USD\n"}}}
}

type testHarness struct {
	pipe    *Pipeline
	writer  *fakeWriter
	reader  *fakeReader
	indexer *fakeIndexer
	led     *ledger.Ledger
}

func newTestHarness(t *testing.T, doc parser.ParsedDoc) *testHarness {
	t.Helper()
	log, metrics := testLogger(t)

	led := ledger.New(3)

	parsers := parser.NewRegistry()
	parsers.Register(".pdf", &fakeParser{doc: doc})

	cls := classifier.New(classifier.DefaultConfig(), nil)
	chain := extract.New(nil, extract.Tolerances{})

	w := &fakeWriter{}
	r := newFakeReader()
	idx := &fakeIndexer{}
	recon := reconcile.New(log, metrics, reconcile.Tolerances{})

	cfg := config.Config{
		Roots:          []config.Root{{Path: "/data/example", InvestorCode: "EXAMPLE"}},
		ParserWorkers:  2,
		ParserDeadline: 2 * time.Second,
	}

	pipe := New(cfg, log, metrics, led, parsers, cls, chain, w, r, idx, recon)
	return &testHarness{pipe: pipe, writer: w, reader: r, indexer: idx, led: led}
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestProcessFilePersistsCapitalAccountStatement(t *testing.T) {
	h := newTestHarness(t, capitalAccountDoc())
	dir := t.TempDir()
	path := writeTempFile(t, dir, "example_cas_q2_2025.pdf", "unused by fakeParser")

	result, err := h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", false)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if result.Status != "persisted" {
		t.Fatalf("Status = %q, want persisted (result=%+v)", result.Status, result)
	}
	if result.DocID == "" {
		t.Fatalf("expected non-empty DocID")
	}

	if len(h.writer.writes) != 1 {
		t.Fatalf("expected exactly one Persist call, got %d", len(h.writer.writes))
	}
	dw := h.writer.writes[0]
	if dw.Investor.InvestorCode != "EXAMPLE" {
		t.Errorf("Investor.InvestorCode = %q, want EXAMPLE", dw.Investor.InvestorCode)
	}
	if dw.Investor.InvestorRef == "" {
		t.Errorf("expected a pre-assigned InvestorRef for a new investor")
	}
	if dw.Fund.FundRef == "" {
		t.Errorf("expected a pre-assigned FundRef for a new fund")
	}
	if dw.CapitalAccount == nil {
		t.Fatalf("expected CapitalAccount row to be built")
	}
	if dw.CapitalAccount.EndingBalance != 40700000 {
		t.Errorf("EndingBalance = %v, want 40700000", dw.CapitalAccount.EndingBalance)
	}

	if len(dw.NAVObservations) != 1 {
		t.Fatalf("expected one NAVObservation, got %d", len(dw.NAVObservations))
	}
	nav := dw.NAVObservations[0]
	if nav.FundRef != dw.Fund.FundRef || nav.InvestorRef != dw.Investor.InvestorRef {
		t.Errorf("NAVObservation refs = (%q,%q), want (%q,%q)", nav.FundRef, nav.InvestorRef, dw.Fund.FundRef, dw.Investor.InvestorRef)
	}

	for _, cf := range dw.Cashflows {
		if cf.FundRef != dw.Fund.FundRef {
			t.Errorf("Cashflow.FundRef = %q, want %q", cf.FundRef, dw.Fund.FundRef)
		}
		if cf.InvestorRef != dw.Investor.InvestorRef {
			t.Errorf("Cashflow.InvestorRef = %q, want %q", cf.InvestorRef, dw.Investor.InvestorRef)
		}
	}

	rec, ok := h.led.Lookup(sha256HashOfFile(t, path))
	if !ok {
		t.Fatalf("expected ledger record to exist")
	}
	if rec.State != model.StatePersisted {
		t.Errorf("ledger state = %s, want Persisted", rec.State)
	}
}

func TestProcessFileIsIdempotentOnReprocess(t *testing.T) {
	h := newTestHarness(t, capitalAccountDoc())
	dir := t.TempDir()
	path := writeTempFile(t, dir, "example_cas_q2_2025.pdf", "unused by fakeParser")

	if _, err := h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", false); err != nil {
		t.Fatalf("first ProcessFile: %v", err)
	}

	result, err := h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", false)
	if err != nil {
		t.Fatalf("second ProcessFile: %v", err)
	}
	if result.Status != "already_processed" {
		t.Fatalf("Status = %q, want already_processed", result.Status)
	}
	if len(h.writer.writes) != 1 {
		t.Errorf("expected Persist to have been called exactly once, got %d", len(h.writer.writes))
	}
}

func TestProcessFileForceReprocessesPersistedDocument(t *testing.T) {
	h := newTestHarness(t, capitalAccountDoc())
	dir := t.TempDir()
	path := writeTempFile(t, dir, "example_cas_q2_2025.pdf", "unused by fakeParser")

	if _, err := h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", false); err != nil {
		t.Fatalf("first ProcessFile: %v", err)
	}

	result, err := h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", true)
	if err != nil {
		t.Fatalf("forced ProcessFile: %v", err)
	}
	if result.Status != "persisted" {
		t.Fatalf("Status = %q, want persisted", result.Status)
	}
	if len(h.writer.writes) != 2 {
		t.Errorf("expected two Persist calls after a forced reprocess, got %d", len(h.writer.writes))
	}
}

func TestProcessFileSkipsOnDuplicateDocID(t *testing.T) {
	h := newTestHarness(t, capitalAccountDoc())
	dir := t.TempDir()
	path := writeTempFile(t, dir, "example_cas_q2_2025.pdf", "unused by fakeParser")

	// Compute the doc_id the way the pipeline will, so the fake writer
	// rejects it as a duplicate on the first attempt.
	hash := sha256HashOfFile(t, path)
	h.writer.dupDocID = hash[:16]

	result, err := h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", false)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if result.Status != "already_processed" {
		t.Fatalf("Status = %q, want already_processed on duplicate doc_id", result.Status)
	}

	rec, ok := h.led.Lookup(hash)
	if !ok {
		t.Fatalf("expected ledger record")
	}
	if rec.State != model.StateSkipped {
		t.Errorf("ledger state = %s, want Skipped", rec.State)
	}
}

func TestProcessFileConcurrentCallsAreRaceSafe(t *testing.T) {
	h := newTestHarness(t, capitalAccountDoc())
	dir := t.TempDir()
	path := writeTempFile(t, dir, "example_cas_q2_2025.pdf", "unused by fakeParser")

	const n = 8
	var wg sync.WaitGroup
	results := make([]ProcessResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", false)
		}(i)
	}
	wg.Wait()

	// A losing goroutine may observe a CAS conflict as either a returned
	// error or a non-"persisted" status, depending on exactly which state
	// the ledger was in when it read it; either is an acceptable outcome
	// as long as precisely one goroutine wins and exactly one write lands.
	persistedCount := 0
	for i, res := range results {
		if errs[i] == nil && res.Status == "persisted" {
			persistedCount++
		}
	}
	if persistedCount != 1 {
		t.Errorf("expected exactly one goroutine to persist, got %d (writes=%d)", persistedCount, len(h.writer.writes))
	}
	if len(h.writer.writes) != 1 {
		t.Errorf("expected exactly one Persist call across all goroutines, got %d", len(h.writer.writes))
	}
}

func TestGetStatusReportsLedgerStates(t *testing.T) {
	h := newTestHarness(t, capitalAccountDoc())
	dir := t.TempDir()
	path := writeTempFile(t, dir, "example_cas_q2_2025.pdf", "unused by fakeParser")

	if _, err := h.pipe.ProcessFile(context.Background(), path, "EXAMPLE", false); err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	status := h.pipe.GetStatus()
	if status.LedgerStates[model.StatePersisted] != 1 {
		t.Errorf("LedgerStates[Persisted] = %d, want 1", status.LedgerStates[model.StatePersisted])
	}
}

func TestRescanWalksConfiguredRoot(t *testing.T) {
	h := newTestHarness(t, capitalAccountDoc())
	dir := t.TempDir()
	writeTempFile(t, dir, "a.pdf", "unused-a")
	writeTempFile(t, dir, "b.pdf", "unused-b")
	writeTempFile(t, dir, "notes.txt", "unused, unsupported extension")

	h.pipe.cfg.Roots = []config.Root{{Path: dir, InvestorCode: "EXAMPLE"}}
	h.pipe.cfg.SupportedExtensions = []string{".pdf"}
	h.pipe.cfg.MaxFileSizeMB = 100

	queued, skipped, err := h.pipe.Rescan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if queued != 2 {
		t.Errorf("queued = %d, want 2", queued)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(h.writer.writes) != 2 {
		t.Errorf("expected 2 Persist calls, got %d", len(h.writer.writes))
	}
}

// sha256HashOfFile mirrors ledger.HashFile so tests can look a record up
// by the same content hash ProcessFile computed internally.
func sha256HashOfFile(t *testing.T, path string) string {
	t.Helper()
	led := ledger.New(3)
	hash, _, _, err := led.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	return hash
}
