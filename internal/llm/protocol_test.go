package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeussilver/insitu-finance-agent/internal/config"
)

func TestCleanProtocolThinkAndFence(t *testing.T) {
	raw := "<think>first compute the deltas</think>\n```go\npackage main\n\nfunc Run(input string) (string, error) { return \"\", nil }\n```"
	gen := CleanProtocol(raw)
	assert.Equal(t, "first compute the deltas", gen.ThoughtTrace)
	assert.True(t, strings.HasPrefix(gen.CodePayload, "package main"))
	assert.NotContains(t, gen.CodePayload, "```")
}

func TestCleanProtocolBareFence(t *testing.T) {
	gen := CleanProtocol("```\npackage main\n```")
	assert.Empty(t, gen.ThoughtTrace)
	assert.Equal(t, "package main", gen.CodePayload)
}

func TestCleanProtocolNoFence(t *testing.T) {
	gen := CleanProtocol("package main\n\nfunc Run(input string) (string, error) { return \"\", nil }\n")
	assert.True(t, strings.HasPrefix(gen.CodePayload, "package main"))
}

func TestIsAPIError(t *testing.T) {
	assert.True(t, IsAPIError("LLM API Error: rate limited"))
	assert.False(t, IsAPIError("package main"))
}

func TestMockClientDispatch(t *testing.T) {
	c := NewMockClient()
	cases := map[string]string{
		"Calculate the RSI-14 of AAPL":           "calcRsi",
		"Calculate Bollinger bands for NVDA":     "calcBollinger",
		"Calculate MACD(12,26,9) for GOOGL":      "calcMacd",
		"Calculate the KDJ indicator for AAPL":   "calcKdj",
		"Calculate the maximum drawdown of META": "calcMaxDrawdown",
		"Detect volume-price divergence":         "detectDivergence",
		"Calculate the 20-day moving average":    "calcMovingAverage",
	}
	for prompt, marker := range cases {
		raw, err := c.CompleteWithSystem(context.Background(), "", prompt)
		require.NoError(t, err)
		gen := CleanProtocol(raw)
		assert.Contains(t, gen.CodePayload, marker, "prompt %q", prompt)
		assert.Contains(t, gen.CodePayload, "func SelfTest() error", "prompt %q", prompt)
		assert.False(t, strings.Contains(gen.CodePayload, "os."), "prompt %q must stay on the allowlist", prompt)
	}
}

func TestNewClientFallsBackToMock(t *testing.T) {
	client := NewClient(context.Background(), config.LLMConfig{Provider: "carrier-pigeon"})
	_, ok := client.(*MockClient)
	assert.True(t, ok)

	client = NewClient(context.Background(), config.LLMConfig{})
	_, ok = client.(*MockClient)
	assert.True(t, ok)
}
