package synth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeussilver/insitu-finance-agent/internal/constraints"
	"github.com/zeussilver/insitu-finance-agent/internal/executor"
	"github.com/zeussilver/insitu-finance-agent/internal/gates"
	"github.com/zeussilver/insitu-finance-agent/internal/gateway"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
	"github.com/zeussilver/insitu-finance-agent/internal/verifier"
)

const workingRsiTool = `package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type args struct {
	Prices []float64 ` + "`json:\"prices\"`" + `
	Period int       ` + "`json:\"period\"`" + `
}

func calcRsi(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period+1 {
		return 0, errors.New("not enough prices for the period")
	}
	var gain, loss float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	if loss == 0 {
		return 100, nil
	}
	rs := gain / loss
	return 100 - 100/(1+rs), nil
}

func Run(input string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(input), &a); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if a.Period == 0 {
		a.Period = 14
	}
	v, err := calcRsi(a.Prices, a.Period)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}

func SelfTest() error {
	prices := []float64{44, 44.5, 44.25, 43.75, 44.5, 44.25, 44.5, 45, 45.5, 46, 46.5, 47, 46.5, 47, 47.5}
	v, err := calcRsi(prices, 5)
	if err != nil {
		return err
	}
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("rsi out of range: %v", v)
	}
	return nil
}
`

const failingRsiTool = `package main

import "errors"

func calcRsi(prices []float64, period int) (float64, error) {
	return -1, nil
}

func Run(input string) (string, error) {
	return "", errors.New("rsi not implemented")
}

func SelfTest() error { return errors.New("rsi out of range") }
`

const stillFailingRsiTool = `package main

import "errors"

func calcRsi(prices []float64, period int) (float64, error) {
	return 200, nil
}

func Run(input string) (string, error) {
	return "", errors.New("rsi still wrong")
}

func SelfTest() error { return errors.New("rsi above 100") }
`

func fence(code string) string {
	return "```go\n" + code + "\n```"
}

func newSynthFixture(t *testing.T, client types.LLMClient) (*Synthesizer, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cs := constraints.Default()
	exec := executor.New(cs, dir, executor.ModeInterp)
	verif := verifier.New(exec, 2, 10*time.Millisecond)
	reg := registry.New(st, filepath.Join(dir, "bootstrap"), filepath.Join(dir, "generated"))

	cm, err := gates.NewCheckpointManager(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)
	gk := gates.NewGatekeeper(gates.ModeDev, cm, logging.NewAuditLog(filepath.Join(dir, "gates.log")), nil)
	gw := gateway.New(verif, gk, reg, cm, logging.NewAuditLog(filepath.Join(dir, "attempts.jsonl")))

	refiner := NewRefiner(client, st, 3)
	refiner.backoff = time.Millisecond
	return New(client, gw, st, refiner), reg
}

func TestSynthesizeWithRefineResubmitsUntilRegistered(t *testing.T) {
	client := &scriptedClient{responses: []string{
		fence(failingRsiTool),
		fence(stillFailingRsiTool),
		fence(workingRsiTool),
	}}
	s, reg := newSynthFixture(t, client)

	out := s.SynthesizeWithRefine(context.Background(), "calc_001", "Calculate the RSI-14 of AAPL")
	require.NoError(t, out.Err)
	require.NotNil(t, out.Tool)
	assert.True(t, out.Refined)
	assert.Equal(t, "calc_rsi", out.Tool.Name)
	assert.Equal(t, 3, client.calls, "one generation plus two repair attempts")

	tool, err := reg.GetByName("calc_rsi")
	require.NoError(t, err)
	require.NotNil(t, tool)
}

func TestSynthesizeWithRefineCarriesFailureIntoNextPatch(t *testing.T) {
	client := &scriptedClient{responses: []string{
		fence(failingRsiTool),
		fence(stillFailingRsiTool),
		fence(workingRsiTool),
	}}
	s, _ := newSynthFixture(t, client)

	out := s.SynthesizeWithRefine(context.Background(), "calc_001", "Calculate the RSI-14 of AAPL")
	require.NoError(t, out.Err)
	require.Len(t, client.prompts, 3)

	assert.Contains(t, client.prompts[1], "rsi out of range",
		"first patch prompt carries the first verification failure")
	assert.Contains(t, client.prompts[2], "rsi above 100",
		"second patch prompt carries the resubmission failure")
	assert.Contains(t, client.prompts[2], "DO NOT REPEAT THESE APPROACHES")
}

func TestSynthesizeWithRefineGivesUpAfterBudget(t *testing.T) {
	client := &scriptedClient{responses: []string{
		fence(failingRsiTool),
		fence(failingRsiTool),
		fence(stillFailingRsiTool),
		fence(failingRsiTool),
	}}
	s, reg := newSynthFixture(t, client)

	out := s.SynthesizeWithRefine(context.Background(), "calc_001", "Calculate the RSI-14 of AAPL")
	require.Error(t, out.Err)
	assert.Equal(t, 4, client.calls, "one generation plus the full repair budget")

	tool, err := reg.GetByName("calc_rsi")
	require.NoError(t, err)
	assert.Nil(t, tool, "no repair succeeded, so nothing registers")
}

func TestSynthesizeWithRetryRegenerates(t *testing.T) {
	client := &scriptedClient{responses: []string{
		fence(failingRsiTool),
		fence(workingRsiTool),
	}}
	s, _ := newSynthFixture(t, client)

	out := s.SynthesizeWithRetry(context.Background(), "calc_001", "Calculate the RSI-14 of AAPL", 2)
	require.NoError(t, out.Err)
	require.NotNil(t, out.Tool)
	assert.False(t, out.Refined, "retry regenerates, it does not patch")
	assert.Equal(t, 2, client.calls)

	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[1], "PREVIOUS ATTEMPT FAILED")
	assert.Contains(t, client.prompts[1], "rsi out of range")
}

func TestBuildUserPromptErrorContext(t *testing.T) {
	plain := buildUserPrompt("Calculate RSI", "calculation", nil, "")
	assert.NotContains(t, plain, "PREVIOUS ATTEMPT FAILED")

	retry := buildUserPrompt("Calculate RSI", "calculation", nil, "Self-test failed: boom")
	assert.Contains(t, retry, "PREVIOUS ATTEMPT FAILED")
	assert.Contains(t, retry, "Self-test failed: boom")
}
