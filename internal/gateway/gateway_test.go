package gateway

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeussilver/insitu-finance-agent/internal/constraints"
	"github.com/zeussilver/insitu-finance-agent/internal/executor"
	"github.com/zeussilver/insitu-finance-agent/internal/gates"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
	"github.com/zeussilver/insitu-finance-agent/internal/verifier"
)

const rsiTool = `package main

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

func newTestGateway(t *testing.T) (*Gateway, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cs := constraints.Default()
	exec := executor.New(cs, dir, executor.ModeInterp)
	verif := verifier.New(exec, 2, 10*time.Millisecond)
	reg := registry.New(st, filepath.Join(dir, "bootstrap"), filepath.Join(dir, "generated"))

	cpDir := filepath.Join(dir, "checkpoints")
	cm, err := gates.NewCheckpointManager(cpDir)
	require.NoError(t, err)
	gk := gates.NewGatekeeper(gates.ModeDev, cm, logging.NewAuditLog(filepath.Join(dir, "gates.log")), nil)
	attempts := logging.NewAuditLog(filepath.Join(dir, "gateway_attempts.jsonl"))
	return New(verif, gk, reg, cm, attempts), cpDir
}

func readCheckpoints(t *testing.T, dir string) []gates.Checkpoint {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var cps []gates.Checkpoint
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		var cp gates.Checkpoint
		require.NoError(t, json.Unmarshal(data, &cp))
		cps = append(cps, cp)
	}
	return cps
}

func TestSubmitRegistersVerifiedTool(t *testing.T) {
	g, _ := newTestGateway(t)
	result := g.Submit(context.Background(), SubmitRequest{
		Code:     rsiTool,
		Category: types.CategoryCalculation,
		TaskID:   "calc_001",
		Query:    "Calculate the RSI-14 of AAPL",
	})
	require.NoError(t, result.Err)
	require.NotNil(t, result.Tool)

	assert.Equal(t, "calc_rsi", result.Tool.Name)
	assert.Equal(t, "calc_rsi", result.Tool.ContractID, "contract resolved from the task id")
	assert.Equal(t, "rsi", result.Tool.Indicator)
	assert.Equal(t, int(verifier.StageContractValid), result.Tool.VerificationStage)
	assert.Equal(t, []string{string(types.PermCalcOnly)}, result.Tool.Permissions)
}

func TestSubmitRejectsInsecureCode(t *testing.T) {
	g, cpDir := newTestGateway(t)
	evil := `package main

import "os/exec"

func Run(input string) (string, error) {
	out, err := exec.Command("whoami").Output()
	return string(out), err
}

func SelfTest() error { return nil }
`
	result := g.Submit(context.Background(), SubmitRequest{
		Code:     evil,
		Category: types.CategoryCalculation,
		TaskID:   "sec_001",
	})
	require.Error(t, result.Err)
	assert.Nil(t, result.Tool)
	require.NotNil(t, result.Report)
	assert.False(t, result.Report.Passed)

	cps := readCheckpoints(t, cpDir)
	require.Len(t, cps, 1)
	assert.Equal(t, "submit_tool", cps[0].Action)
	assert.Equal(t, "failed", cps[0].Status)
	assert.Contains(t, cps[0].Error, "verification failed")
}

func TestSubmitFailureLeavesRegistryUntouched(t *testing.T) {
	g, _ := newTestGateway(t)
	first := g.Submit(context.Background(), SubmitRequest{
		Code:     rsiTool,
		Category: types.CategoryCalculation,
		TaskID:   "calc_001",
	})
	require.NoError(t, first.Err)
	require.NotNil(t, first.Tool)

	broken := `package main

import "errors"

func calcRsi(prices []float64, period int) (float64, error) {
	return -1, nil
}

func Run(input string) (string, error) {
	return "", errors.New("always fails")
}

func SelfTest() error { return errors.New("rsi out of range") }
`
	second := g.Submit(context.Background(), SubmitRequest{
		Code:     broken,
		Category: types.CategoryCalculation,
		TaskID:   "calc_001",
	})
	require.Error(t, second.Err)

	tool, err := g.registry.GetByName("calc_rsi")
	require.NoError(t, err)
	require.NotNil(t, tool)
	assert.Equal(t, first.Tool.Status, tool.Status, "failed submission must not demote the existing tool")
	assert.Equal(t, first.Tool.SemanticVersion, tool.SemanticVersion)
	assert.NotEqual(t, types.StatusFailed, tool.Status)
}

func TestSubmitSuccessCompletesCheckpoint(t *testing.T) {
	g, cpDir := newTestGateway(t)
	result := g.Submit(context.Background(), SubmitRequest{
		Code:     rsiTool,
		Category: types.CategoryCalculation,
		TaskID:   "calc_001",
	})
	require.NoError(t, result.Err)

	byAction := map[string]gates.Checkpoint{}
	for _, cp := range readCheckpoints(t, cpDir) {
		byAction[cp.Action] = cp
	}
	submit, ok := byAction["submit_tool"]
	require.True(t, ok, "submit checkpoint missing")
	assert.Equal(t, "completed", submit.Status)
	create, ok := byAction["create_tool"]
	require.True(t, ok, "gate checkpoint missing")
	assert.Equal(t, "completed", create.Status)

	for _, cp := range byAction {
		assert.NotEqual(t, "pending", cp.Status, "checkpoint %s left pending", cp.ID)
	}
}

func TestSubmitStats(t *testing.T) {
	g, _ := newTestGateway(t)
	_ = g.Submit(context.Background(), SubmitRequest{
		Code: rsiTool, Category: types.CategoryCalculation, TaskID: "calc_001",
	})
	_ = g.Submit(context.Background(), SubmitRequest{
		Code: "package main\nfunc Run(input string) (string, error) { return \"\", nil }\nfunc SelfTest() error { return nil }",
		Category: types.CategoryCalculation, TaskID: "calc_002",
	})

	stats, err := g.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Submitted)
	assert.GreaterOrEqual(t, stats.Registered, 1)
}

func TestVerifyOnlyDoesNotRegister(t *testing.T) {
	g, _ := newTestGateway(t)
	passed, report := g.VerifyOnly(context.Background(), rsiTool, types.CategoryCalculation, "calc_001", nil)
	assert.True(t, passed, "failures: %v", report.FailureMessages())

	tool, err := g.registry.GetByName("calc_rsi")
	require.NoError(t, err)
	assert.Nil(t, tool)
}
