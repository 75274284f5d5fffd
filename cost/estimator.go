package cost

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/canvasflow/canvasflow/workflow"
)

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	"gpt-5":         "o200k_base",
	"gpt-5-mini":    "o200k_base",
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// encodingForModel resolves a model name to its encoding, trying a
// prefix match before falling back to the default. The longest prefix
// wins so "gpt-4o-..." resolves through gpt-4o, not gpt-4.
func encodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best, enc := "", defaultEncoding
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, enc = prefix, e
		}
	}
	return enc
}

// Estimator counts tokens per model. Encodings initialize lazily on
// first use (tiktoken may download data); when an encoding cannot be
// loaded the estimator degrades to an approximate character count
// instead of failing.
type Estimator struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
}

// NewEstimator creates a token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		encs: make(map[string]*tiktoken.Tiktoken),
	}
}

// CountTokens counts the tokens of text under the given model's
// encoding. It never fails: an unavailable encoding falls back to
// approximately one token per four characters.
func (e *Estimator) CountTokens(model, text string) int {
	if text == "" {
		return 0
	}

	enc := e.encodingFor(model)
	if enc == nil {
		return approxTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *Estimator) encodingFor(model string) *tiktoken.Tiktoken {
	name := encodingForModel(model)

	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encs[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		// Cache the failure so every count doesn't retry the download.
		e.encs[name] = nil
		return nil
	}
	e.encs[name] = enc
	return enc
}

// approxTokens is the offline fallback: one token per four characters,
// at least one for non-empty text.
func approxTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// Price is the USD price per 1K tokens for one model.
type Price struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// PriceTable maps model names to their prices. Unknown models price
// at zero rather than guessing.
type PriceTable map[string]Price

// DefaultPriceTable returns prices for the commonly simulated models.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gpt-5":             {InputPer1K: 0.00125, OutputPer1K: 0.01},
		"gpt-5-mini":        {InputPer1K: 0.00025, OutputPer1K: 0.002},
		"gpt-4o":            {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":       {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"claude-opus-4.5":   {InputPer1K: 0.005, OutputPer1K: 0.025},
		"claude-sonnet-4.5": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-haiku-4.5":  {InputPer1K: 0.001, OutputPer1K: 0.005},
		"gemini-3.0-pro":    {InputPer1K: 0.00125, OutputPer1K: 0.01},
		"gemini-3.0-flash":  {InputPer1K: 0.0002, OutputPer1K: 0.001},
		"deepseek-chat":     {InputPer1K: 0.00014, OutputPer1K: 0.00028},
	}
}

// lookup resolves a model's price, trying a prefix match so dated
// variants like "claude-opus-4.5-20260105" still price. The longest
// prefix wins so a -mini variant never prices as its base model.
func (t PriceTable) lookup(model string) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	var (
		best  string
		price Price
		found bool
	)
	for prefix, p := range t {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, price, found = prefix, p, true
		}
	}
	return price, found
}

// Estimate prices a token count split. Unknown models cost zero.
func (t PriceTable) Estimate(model string, inTokens, outTokens int) float64 {
	p, ok := t.lookup(model)
	if !ok {
		return 0
	}
	return float64(inTokens)/1000*p.InputPer1K + float64(outTokens)/1000*p.OutputPer1K
}

// TokenEstimator builds the attribution hook the simulated executor
// accepts: produced text is counted under the model's encoding and
// priced as output tokens.
func (e *Estimator) TokenEstimator(model string, table PriceTable) workflow.TokenEstimator {
	return func(text string) (int, float64) {
		tokens := e.CountTokens(model, text)
		return tokens, table.Estimate(model, 0, tokens)
	}
}
