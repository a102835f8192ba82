// Package classifier implements the Classifier component (C5): a
// deterministic anchor/regex vote pass over filename and leading text,
// falling back to the LLMClient capability when no type clears the
// configured margin and threshold.
package classifier

import (
	"context"
	"regexp"
	"sort"

	"pe_ingest/pkg/core/llm"
	"pe_ingest/pkg/model"
)

// Anchor is one labeled regex/phrase contributing a weighted vote to a
// DocType when matched against the filename or leading text.
type Anchor struct {
	DocType model.DocType
	Pattern *regexp.Regexp
	Weight  float64
}

// specificity ranks DocTypes for the deterministic-tie tie-break rule:
// "prefer the more specific type (e.g. CapitalAccountStatement over
// QuarterlyReport)". Lower rank wins ties.
var specificity = map[model.DocType]int{
	model.DocCapitalAccountStatement: 0,
	model.DocCapitalCallNotice:       1,
	model.DocDistributionNotice:      1,
	model.DocQuarterlyReport:         2,
	model.DocAnnualReport:            2,
	model.DocLPA:                     3,
	model.DocPPM:                     3,
	model.DocSubscription:            3,
	model.DocOther:                   9,
}

// Config tunes the classifier's margin/threshold/LLM-confidence-cap
// behavior, per §4.5.
type Config struct {
	Margin          float64 // default 0.2
	Threshold       float64 // default 1.0
	LLMConfCap      float64 // default 0.85
	MinConfidence   float64 // classification_min_confidence, default 0.3
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{Margin: 0.2, Threshold: 1.0, LLMConfCap: 0.85, MinConfidence: 0.3}
}

// Result is the classifier's output: a DocType with confidence, plus
// whether the LLM fallback was invoked (informs the FieldAudit entry the
// caller records for low-confidence classifications).
type Result struct {
	DocType          model.DocType
	Confidence       float64
	UsedLLM          bool
	BelowMinConf     bool
}

// Classifier holds the anchor set and wraps an optional LLMClient.
type Classifier struct {
	anchors []Anchor
	llm     llm.Client
	cfg     Config
}

// New builds a Classifier. llmClient may be nil, in which case step 3 of
// §4.5 is skipped and an anchor-less document falls straight to Other.
func New(cfg Config, llmClient llm.Client) *Classifier {
	return &Classifier{anchors: defaultAnchors(), llm: llmClient, cfg: cfg}
}

// Classify runs the anchor pass against filename + the first 3 pages of
// text, falling back to the LLMClient if no type clears margin/threshold.
func (c *Classifier) Classify(ctx context.Context, filename, textExcerpt string) Result {
	weights := c.voteWeights(filename, textExcerpt)

	if winner, confidence, ok := c.decisiveWinner(weights); ok {
		return Result{DocType: winner, Confidence: confidence}
	}

	if c.llm != nil {
		if res, err := c.llm.Classify(ctx, textExcerpt, filename); err == nil && res.DocType != "" {
			conf := res.Confidence
			if conf > c.cfg.LLMConfCap {
				conf = c.cfg.LLMConfCap
			}
			dt := model.DocType(res.DocType)
			return Result{DocType: dt, Confidence: conf, UsedLLM: true, BelowMinConf: conf < c.cfg.MinConfidence}
		}
	}

	return Result{DocType: model.DocOther, Confidence: 0.1, BelowMinConf: true}
}

// voteWeights sums anchor weights per DocType across filename and text.
func (c *Classifier) voteWeights(filename, text string) map[model.DocType]float64 {
	weights := make(map[model.DocType]float64)
	haystack := filename + "\n" + text
	for _, a := range c.anchors {
		if a.Pattern.MatchString(haystack) {
			weights[a.DocType] += a.Weight
		}
	}
	return weights
}

// decisiveWinner applies the margin-over-runner-up AND cumulative-weight
// rules from §4.5 step 2, breaking deterministic ties by specificity.
func (c *Classifier) decisiveWinner(weights map[model.DocType]float64) (model.DocType, float64, bool) {
	if len(weights) == 0 {
		return "", 0, false
	}

	type scored struct {
		docType model.DocType
		weight  float64
	}
	var ranked []scored
	for dt, w := range weights {
		ranked = append(ranked, scored{dt, w})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return specificity[ranked[i].docType] < specificity[ranked[j].docType]
	})

	total := 0.0
	for _, r := range ranked {
		total += r.weight
	}
	if total < c.cfg.Threshold {
		return "", 0, false
	}

	top := ranked[0]
	runnerUp := 0.0
	if len(ranked) > 1 {
		runnerUp = ranked[1].weight
	}
	// An exact tie is settled by the specificity order ranked already uses.
	tieToMoreSpecific := len(ranked) > 1 && top.weight == runnerUp &&
		specificity[top.docType] < specificity[ranked[1].docType]
	if top.weight-runnerUp < c.cfg.Margin && !tieToMoreSpecific {
		return "", 0, false
	}

	confidence := top.weight / total
	if confidence > 1.0 {
		confidence = 1.0
	}
	return top.docType, confidence, true
}

// defaultAnchors is the multilingual (EN/DE/ES) anchor set, grounded on
// the document-type vocabulary from §3/§4.5.
func defaultAnchors() []Anchor {
	mk := func(dt model.DocType, weight float64, patterns ...string) []Anchor {
		var out []Anchor
		for _, p := range patterns {
			out = append(out, Anchor{DocType: dt, Pattern: regexp.MustCompile("(?i)" + p), Weight: weight})
		}
		return out
	}

	var all []Anchor
	all = append(all, mk(model.DocCapitalAccountStatement, 0.6,
		`capital\s*account\s*statement`, `statement\s*of\s*capital\s*account`,
		`kapitalkontoauszug`, `estado\s*de\s*cuenta\s*de\s*capital`,
		`ending\s*balance`, `beginning\s*balance`)...)
	all = append(all, mk(model.DocCapitalAccountStatement, 0.3, `\bcas\b`)...)

	all = append(all, mk(model.DocQuarterlyReport, 0.6,
		`quarterly\s*report`, `quartalsbericht`, `informe\s*trimestral`, `\bq[1-4]\s*20\d{2}\b`)...)
	all = append(all, mk(model.DocQuarterlyReport, 0.3, `\bqr\b`)...)

	all = append(all, mk(model.DocAnnualReport, 0.6,
		`annual\s*report`, `jahresbericht`, `informe\s*anual`)...)

	all = append(all, mk(model.DocCapitalCallNotice, 0.7,
		`capital\s*call\s*notice`, `drawdown\s*notice`, `kapitalabruf`, `aviso\s*de\s*capital`)...)

	all = append(all, mk(model.DocDistributionNotice, 0.7,
		`distribution\s*notice`, `ausschüttungsmitteilung`, `aviso\s*de\s*distribuci[oó]n`)...)

	all = append(all, mk(model.DocLPA, 0.7,
		`limited\s*partnership\s*agreement`, `\blpa\b`, `gesellschaftsvertrag`)...)

	all = append(all, mk(model.DocPPM, 0.7,
		`private\s*placement\s*memorandum`, `\bppm\b`)...)

	all = append(all, mk(model.DocSubscription, 0.7,
		`subscription\s*agreement`, `zeichnungsschein`, `contrato\s*de\s*suscripci[oó]n`)...)

	return all
}
