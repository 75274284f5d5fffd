package cost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodingForModel(t *testing.T) {
	assert.Equal(t, "o200k_base", encodingForModel("gpt-5"))
	assert.Equal(t, "o200k_base", encodingForModel("gpt-4o-2026-01-05"))
	assert.Equal(t, "cl100k_base", encodingForModel("gpt-4"))
	assert.Equal(t, "cl100k_base", encodingForModel("some-unknown-model"))
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 1, approxTokens("ok"))
	assert.Equal(t, 3, approxTokens("hello, world!"))
	assert.Equal(t, 25, approxTokens(strings.Repeat("a", 100)))
}

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()

	assert.Equal(t, 0, e.CountTokens("gpt-4o", ""))

	// Exact counts depend on whether the tiktoken encoding is
	// available; either way non-empty text counts as something.
	short := e.CountTokens("gpt-4o", "hello")
	long := e.CountTokens("gpt-4o", "The uploaded document was summarized and forwarded to the review team for approval.")
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestPriceTable_Estimate(t *testing.T) {
	table := DefaultPriceTable()

	// 2000 input + 1000 output tokens of gpt-4o:
	// 2*0.0025 + 1*0.01 = 0.015
	assert.InDelta(t, 0.015, table.Estimate("gpt-4o", 2000, 1000), 1e-9)

	// Dated model names price through the prefix.
	assert.InDelta(t, 0.025, table.Estimate("claude-opus-4.5-20260105", 0, 1000), 1e-9)

	assert.Zero(t, table.Estimate("unknown-model", 5000, 5000))
}

func TestTokenEstimator_AttributesCost(t *testing.T) {
	e := NewEstimator()
	est := e.TokenEstimator("gpt-4o", DefaultPriceTable())

	tokens, costUSD := est("The uploaded document was summarized.")
	assert.Greater(t, tokens, 0)
	assert.Greater(t, costUSD, 0.0)

	unpriced := e.TokenEstimator("unknown-model", DefaultPriceTable())
	tokens, costUSD = unpriced("some text")
	assert.Greater(t, tokens, 0)
	assert.Zero(t, costUSD)
}
