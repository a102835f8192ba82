package indexer

import (
	"fmt"
	"strconv"
	"strings"

	"pe_ingest/pkg/core/parser"
	"pe_ingest/pkg/core/vectorindex"
	"pe_ingest/pkg/model"
)

// ChunkInput carries everything BuildChunks needs for one Document: either
// a CapitalAccountRow (structured facts, synthesized into one canonical
// chunk) or a ParsedDoc (free text, split per page), per §4.9.
type ChunkInput struct {
	DocID       string
	DocType     model.DocType
	FundRef     string
	InvestorRef string
	AsOfDate    *string // ISO date, already formatted by the caller
	Currency    string
	Row         *model.CapitalAccountRow
	Doc         parser.ParsedDoc
}

// BuildChunks implements the chunking policy: one canonical fact chunk for
// capital accounts, one chunk per non-blank page otherwise.
func BuildChunks(input ChunkInput) []vectorindex.Chunk {
	if input.Row != nil {
		return []vectorindex.Chunk{canonicalChunk(input)}
	}
	return pageChunks(input)
}

func baseMetadata(input ChunkInput) map[string]string {
	meta := map[string]string{
		"doc_id":   input.DocID,
		"doc_type": string(input.DocType),
	}
	if input.FundRef != "" {
		meta["fund_ref"] = input.FundRef
	}
	if input.InvestorRef != "" {
		meta["investor_ref"] = input.InvestorRef
	}
	if input.AsOfDate != nil {
		meta["as_of_date"] = *input.AsOfDate
	}
	if input.Currency != "" {
		meta["currency"] = input.Currency
	}
	return meta
}

// canonicalChunk stitches the normalized fields of a capital account into
// one high-retrieval-quality summary, the way the teacher's synthesis
// stage stitches yearly fields into a single GoldenRecord snapshot.
func canonicalChunk(input ChunkInput) vectorindex.Chunk {
	r := input.Row
	var sb strings.Builder
	fmt.Fprintf(&sb, "Capital account statement for investor %s in fund %s", input.InvestorRef, input.FundRef)
	if input.AsOfDate != nil {
		fmt.Fprintf(&sb, " as of %s", *input.AsOfDate)
	}
	sb.WriteString(".\n")
	if r.Currency != "" {
		fmt.Fprintf(&sb, "Reporting currency: %s.\n", r.Currency)
	}
	fmt.Fprintf(&sb, "Beginning balance: %.2f. Ending balance: %.2f.\n", r.BeginningBalance, r.EndingBalance)
	fmt.Fprintf(&sb, "Contributions this period: %.2f. Distributions this period: %.2f.\n", r.ContributionsPeriod, r.DistributionsPeriod)
	fmt.Fprintf(&sb, "Recallable distributions: %.2f. Non-recallable distributions: %.2f.\n", r.DistributionsRecallable, r.DistributionsNonRecallable)
	fmt.Fprintf(&sb, "Management fees: %.2f. Partnership expenses: %.2f.\n", r.ManagementFeesPeriod, r.PartnershipExpensesPeriod)
	fmt.Fprintf(&sb, "Realized gain/loss: %.2f. Unrealized gain/loss: %.2f.\n", r.RealizedGainLossPeriod, r.UnrealizedGainLossPeriod)
	fmt.Fprintf(&sb, "Total commitment: %.2f. Drawn commitment: %.2f. Unfunded commitment: %.2f.\n", r.TotalCommitment, r.DrawnCommitment, r.UnfundedCommitment)

	return vectorindex.Chunk{Text: sb.String(), Metadata: baseMetadata(input)}
}

func pageChunks(input ChunkInput) []vectorindex.Chunk {
	var chunks []vectorindex.Chunk
	for _, page := range input.Doc.Pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		meta := baseMetadata(input)
		meta["page_no"] = strconv.Itoa(page.No)
		chunks = append(chunks, vectorindex.Chunk{Text: page.Text, Metadata: meta})
	}
	return chunks
}
