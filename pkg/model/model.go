// Package model holds the relational entities shared across the ingestion
// pipeline. These are plain structs: the pipeline components pass them by
// value or pointer, and pkg/core/persistence is the only package that knows
// how they map onto tables.
package model

import "time"

// FileState is the FileLedger's state-machine position for one FileRecord.
type FileState string

const (
	StateDiscovered FileState = "Discovered"
	StateQueued     FileState = "Queued"
	StateParsing    FileState = "Parsing"
	StateExtracting FileState = "Extracting"
	StatePersisted  FileState = "Persisted"
	StateEmbedded   FileState = "Embedded"
	StateFailed     FileState = "Failed"
	StateSkipped    FileState = "Skipped"
)

// EmbeddingStatus tracks IndexerWorker progress independently of FileState,
// since a document can be Persisted while its embedding is still pending or
// has failed and is awaiting retry.
type EmbeddingStatus string

const (
	EmbeddingPending EmbeddingStatus = "Pending"
	EmbeddingOK      EmbeddingStatus = "Embedded"
	EmbeddingFailed  EmbeddingStatus = "Failed"
)

// FileRecord is the FileLedger's unit of bookkeeping for one physical file.
type FileRecord struct {
	Path          string
	ContentHash   string // SHA-256, hex
	Size          int64
	MTime         time.Time
	DiscoveredAt  time.Time
	State         FileState
	Error         string
	Attempts      int
	Embedding     EmbeddingStatus
	EmbeddingErr  string
	UpdatedAt     time.Time
}

// DocType enumerates the classifier's output space.
type DocType string

const (
	DocCapitalAccountStatement DocType = "CapitalAccountStatement"
	DocQuarterlyReport         DocType = "QuarterlyReport"
	DocAnnualReport            DocType = "AnnualReport"
	DocCapitalCallNotice       DocType = "CapitalCallNotice"
	DocDistributionNotice      DocType = "DistributionNotice"
	DocLPA                     DocType = "LPA"
	DocPPM                     DocType = "PPM"
	DocSubscription            DocType = "Subscription"
	DocOther                   DocType = "Other"
)

// Document is the persisted record of one successfully (or partially)
// processed file.
type Document struct {
	DocID                 string // first 16 hex chars of ContentHash
	DocType               DocType
	ClassificationConf    float64
	SourcePath            string
	InvestorRef           string
	FundRef               string // empty if unresolved
	AsOfDate              *time.Time
	OverallConfidence     float64
	CreatedAt             time.Time
}

// Investor is a top-level owner of one or more Funds, resolved from the
// discovery path prefix.
type Investor struct {
	InvestorRef  string
	InvestorCode string
	Name         string
	CreatedAt    time.Time
}

// Fund is scoped under exactly one Investor.
type Fund struct {
	FundRef     string
	InvestorRef string
	FundCode    string
	Name        string
	CreatedAt   time.Time
}

// Period is the month-end boundary derived from an as-of date.
type Period struct {
	PeriodID string // ISO month-end date, e.g. "2025-06-30"
	EndDate  time.Time
}

// CapitalAccountRow holds one CapitalAccountStatement's worth of balances,
// flows, and commitment state for (FundRef, InvestorRef, AsOfDate).
type CapitalAccountRow struct {
	FundRef     string
	InvestorRef string
	AsOfDate    time.Time
	Currency    string

	BeginningBalance float64
	EndingBalance    float64

	ContributionsPeriod       float64
	DistributionsPeriod       float64
	DistributionsRecallable   float64
	DistributionsNonRecallable float64
	ManagementFeesPeriod     float64
	PartnershipExpensesPeriod float64
	RealizedGainLossPeriod   float64
	UnrealizedGainLossPeriod float64

	TotalCommitment    float64
	DrawnCommitment    float64
	UnfundedCommitment float64

	ValidationStatus string // "Consistent" | "Inconsistent"
	SourceDocID      string
	UpdatedAt        time.Time
}

// NAVScope distinguishes a fund-level NAV observation from an investor-level
// one (the same fund can have multiple investors, each with its own NAV
// carve-out reported in a CapitalAccountStatement).
type NAVScope string

const (
	NAVScopeFund     NAVScope = "Fund"
	NAVScopeInvestor NAVScope = "Investor"
)

// NAVObservation is one independently-sourced NAV reading; multiple
// observations for the same key are expected and feed reconciliation.
type NAVObservation struct {
	FundRef     string
	Scope       NAVScope
	InvestorRef string // set when Scope == Investor
	AsOfDate    time.Time
	Value       float64
	Currency    string
	SourceDocID string
	CreatedAt   time.Time
}

// FlowType encodes the direction and purpose of a Cashflow.
type FlowType string

const (
	FlowCall         FlowType = "Call"
	FlowDistribution FlowType = "Distribution"
	FlowFee          FlowType = "Fee"
	FlowTax          FlowType = "Tax"
	FlowOther        FlowType = "Other"
)

// Cashflow is one dated, directional amount. Amounts are always
// non-negative; FlowType carries the sign semantics.
type Cashflow struct {
	FundRef     string
	InvestorRef string // optional, empty for fund-level flows
	FlowType    FlowType
	FlowDate    time.Time
	Amount      float64
	Currency    string
	SourceDocID string
	CreatedAt   time.Time
}

// PerformanceMetric holds one fund's reported performance figures as of a
// date, as extracted from a source document (not recalculated — that's
// ReconciliationEngine's job).
type PerformanceMetric struct {
	FundRef        string
	AsOfDate       time.Time
	IRRNet         *float64
	MOIC           *float64
	TVPI           *float64
	DPI            *float64
	RVPI           *float64
	CalledPct      *float64
	DistributedPct *float64
	SourceDocID    string
	CreatedAt      time.Time
}

// ValidationStatus describes the outcome of validating one extracted field.
type ValidationStatus string

const (
	ValidationOK           ValidationStatus = "Valid"
	ValidationInconsistent ValidationStatus = "Inconsistent"
	ValidationMissing      ValidationStatus = "Missing"
)

// FieldAudit is an immutable record of one extractor's attempt to populate
// a single field. Override events append a new row rather than mutating an
// existing one.
type FieldAudit struct {
	DocID            string
	FieldName        string
	RawValue         string
	NormalizedValue  string
	ExtractorTag     string
	Confidence       float64
	ValidationStatus ValidationStatus
	Override         bool
	CreatedAt        time.Time
}

// Severity ranks ReconciliationFinding and resolver audit-event urgency,
// worst first.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
	SeverityInfo     Severity = "Info"
)

// severityRank gives a total order over Severity for "worst of" comparisons;
// lower is worse.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:      1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// WorseSeverity returns whichever of a, b ranks as more urgent.
func WorseSeverity(a, b Severity) Severity {
	ra, ok := severityRank[a]
	if !ok {
		return b
	}
	rb, ok := severityRank[b]
	if !ok {
		return a
	}
	if ra <= rb {
		return a
	}
	return b
}

// FindingStatus is the pass/fail verdict of one ReconciliationFinding.
type FindingStatus string

const (
	StatusPass    FindingStatus = "Pass"
	StatusWarning FindingStatus = "Warning"
	StatusFail    FindingStatus = "Fail"
)

// ReconciliationType names the four check families ReconciliationEngine runs.
type ReconciliationType string

const (
	ReconcileNAV        ReconciliationType = "NAV"
	ReconcileCashflow   ReconciliationType = "Cashflow"
	ReconcilePerformance ReconciliationType = "Performance"
	ReconcileCommitment ReconciliationType = "Commitment"
)

// ReconciliationFinding is one check's verdict for a (FundRef, AsOfDate)
// window, with supporting evidence serialized as JSON text.
type ReconciliationFinding struct {
	FundRef         string
	AsOfDate        time.Time
	Type            ReconciliationType
	Severity        Severity
	Status          FindingStatus
	DetailsJSON     string
	Recommendations []string
	CreatedAt       time.Time
}
