package synth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnfixable(t *testing.T) {
	assert.True(t, Unfixable("SecurityException: Unallowed import: os"))
	assert.True(t, Unfixable("TimeoutError: execution exceeded 30s"))
	assert.True(t, Unfixable("LLM API Error: rate limited"))
	assert.False(t, Unfixable("index out of range [5] with length 3"))
	assert.False(t, Unfixable("Self-test failed: rsi out of range"))
}

func TestClassify(t *testing.T) {
	typ, strategy := classify("runtime error: index out of range [5]")
	assert.Equal(t, "index_error", typ)
	assert.Contains(t, strategy, "bounds")

	typ, _ = classify("Contract validation failed: missing required key: upper")
	assert.Equal(t, "contract_error", typ)

	typ, _ = classify("something nobody has seen before")
	assert.Equal(t, "unknown", typ)
}

func TestTruncateMiddle(t *testing.T) {
	short := "short message"
	assert.Equal(t, short, truncateMiddle(short, 2000))

	long := strings.Repeat("a", 1500) + "MIDDLE" + strings.Repeat("b", 1500)
	out := truncateMiddle(long, 200)
	assert.LessOrEqual(t, len(out), 205)
	assert.True(t, strings.HasPrefix(out, "a"))
	assert.True(t, strings.HasSuffix(out, "b"))
	assert.Contains(t, out, "...")
}

type scriptedClient struct {
	responses []string
	prompts   []string
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	c.prompts = append(c.prompts, user)
	if c.calls >= len(c.responses) {
		return "", nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func TestRefineFailsFastOnUnfixable(t *testing.T) {
	r := NewRefiner(&scriptedClient{}, nil, 3)
	_, _, err := r.Refine(context.Background(), RefineRequest{
		TaskID:  "calc_001",
		Code:    "package main",
		Failure: "SecurityException: Unallowed call: panic",
	}, 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unfixable")
}

func TestRefineReturnsPatchedCode(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"```go\npackage main\n\nfunc Run(input string) (string, error) { return \"fixed\", nil }\n\nfunc SelfTest() error { return nil }\n```",
	}}
	r := NewRefiner(client, nil, 3)
	code, strategy, err := r.Refine(context.Background(), RefineRequest{
		TaskID:  "calc_001",
		Query:   "Calculate the RSI",
		Code:    "package main // broken",
		Failure: "Self-test failed: rsi out of range",
	}, 1, nil)
	require.NoError(t, err)
	assert.Contains(t, code, "fixed")
	assert.NotEmpty(t, strategy)
	assert.Equal(t, 1, client.calls)
}

func TestRefineNoUsableCode(t *testing.T) {
	client := &scriptedClient{responses: []string{"LLM API Error: rate limited"}}
	r := NewRefiner(client, nil, 3)
	code, strategy, err := r.Refine(context.Background(), RefineRequest{
		TaskID:  "calc_001",
		Code:    "package main",
		Failure: "index out of range [5]",
	}, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, code)
	assert.Contains(t, strategy, "bounds")
}

func TestRefinePromptCarriesHistory(t *testing.T) {
	req := RefineRequest{Query: "Calculate RSI", Code: "package main"}
	prompt := buildPatchPrompt(req, "index out of range", "add bounds checks",
		[]string{"clamp the output"})
	assert.Contains(t, prompt, "DO NOT REPEAT THESE APPROACHES")
	assert.Contains(t, prompt, "clamp the output")
	assert.Contains(t, prompt, "Never weaken or delete the SelfTest assertions")
}
