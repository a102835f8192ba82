package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiClient implements Client against Google's Gemini models, with a
// semaphore-based global concurrency cap and a token-bucket rate limiter
// shared across both operations, per §5's "LLMClient has a global
// concurrency cap (default 8) and a token-bucket rate limit."
type GeminiClient struct {
	apiKey string
	model  string

	sem     chan struct{}
	limiter *rate.Limiter
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient builds a GeminiClient. concurrency caps simultaneous
// in-flight requests; ratePerMinute bounds the sustained call rate.
func NewGeminiClient(apiKey, model string, concurrency, ratePerMinute int) *GeminiClient {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		sem:     make(chan struct{}, concurrency),
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute),
	}
}

// acquire blocks for both the concurrency semaphore and the rate limiter,
// returning a release func, or a CallError if ctx is cancelled first.
func (g *GeminiClient) acquire(ctx context.Context) (func(), error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, &CallError{Kind: Transient, Err: ctx.Err()}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		<-g.sem
		return nil, &CallError{Kind: RateLimited, Err: err}
	}

	return func() { <-g.sem }, nil
}

func (g *GeminiClient) newContentClient(ctx context.Context) (*genai.Client, error) {
	if g.apiKey == "" {
		return nil, &CallError{Kind: Invalid, Err: fmt.Errorf("GEMINI_API_KEY not configured")}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &CallError{Kind: Transient, Err: fmt.Errorf("creating genai client: %w", err)}
	}
	return client, nil
}

const classifySystemPrompt = `You classify private-equity investor documents into exactly one of:
CapitalAccountStatement, QuarterlyReport, AnnualReport, CapitalCallNotice,
DistributionNotice, LPA, PPM, Subscription, Other.
Respond with a JSON object: {"doc_type": "...", "confidence": 0.0-1.0}.`

// Classify asks Gemini to classify a text excerpt, used as the fallback
// when the deterministic anchor pass does not clear its margin/threshold.
func (g *GeminiClient) Classify(ctx context.Context, textExcerpt, filename string) (ClassifyResult, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return ClassifyResult{}, err
	}
	defer release()

	client, err := g.newContentClient(ctx)
	if err != nil {
		return ClassifyResult{}, err
	}

	prompt := fmt.Sprintf("Filename: %s\n\nDocument excerpt:\n%s", filename, textExcerpt)
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.1)),
		ResponseMIMEType:  "application/json",
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: classifySystemPrompt}}},
	}

	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return ClassifyResult{}, &CallError{Kind: classifyGenAIError(err), Err: err}
	}

	raw := result.Text()
	repaired, rerr := jsonrepair.RepairJSON(raw)
	if rerr != nil {
		repaired = raw
	}

	var parsed struct {
		DocType    string  `json:"doc_type"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return ClassifyResult{}, &CallError{Kind: Invalid, Err: fmt.Errorf("parsing classify response: %w", err)}
	}

	return ClassifyResult{DocType: parsed.DocType, Confidence: parsed.Confidence}, nil
}

const extractSystemPromptTemplate = `You extract structured fields from a private-equity document.
Return a single JSON object keyed exactly by the requested field names.
Use null for any field not present in the text. Do not invent values.
Requested fields: %s`

// ExtractFields asks Gemini to populate the field catalog from text and up
// to three tables, per §4.6's LLM field matcher.
func (g *GeminiClient) ExtractFields(ctx context.Context, catalog []string, text string, tables []TableExcerpt) (map[string]string, error) {
	release, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	client, err := g.newContentClient(ctx)
	if err != nil {
		return nil, err
	}

	if len(tables) > 3 {
		tables = tables[:3]
	}
	if len(text) > 3000 {
		text = text[:3000]
	}

	var b strings.Builder
	b.WriteString(text)
	for i, tbl := range tables {
		fmt.Fprintf(&b, "\n\nTable %d headers: %s\n", i+1, strings.Join(tbl.Headers, ", "))
		for _, row := range tbl.Rows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteByte('\n')
		}
	}

	systemPrompt := fmt.Sprintf(extractSystemPromptTemplate, strings.Join(catalog, ", "))
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.1)),
		ResponseMIMEType:  "application/json",
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	}

	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(b.String()), config)
	if err != nil {
		return nil, &CallError{Kind: classifyGenAIError(err), Err: err}
	}

	raw := result.Text()
	repaired, rerr := jsonrepair.RepairJSON(raw)
	if rerr != nil {
		repaired = raw
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
		return nil, &CallError{Kind: Invalid, Err: fmt.Errorf("parsing extract response: %w", err)}
	}

	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out, nil
}

// classifyGenAIError maps a raw genai error into a FailureKind. The SDK
// does not expose a typed rate-limit error; the 429 status text is the
// documented signal.
func classifyGenAIError(err error) FailureKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "resourceexhausted"):
		return RateLimited
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout") || strings.Contains(msg, "unavailable"):
		return Transient
	default:
		return Invalid
	}
}

// WithTimeout bounds a Classify or ExtractFields call with a per-operation
// deadline (the pipeline passes config.LLM.ClassifyTimeout / ExtractTimeout).
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
