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
	"github.com/zeussilver/insitu-finance-agent/internal/llm"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
	"github.com/zeussilver/insitu-finance-agent/internal/verifier"
)

type fixture struct {
	manager  *BatchManager
	registry *registry.Registry
	metrics  *Recorder
	logsDir  string
}

func newBatchFixture(t *testing.T) *fixture {
	return newBatchFixtureWith(t, llm.NewMockClient(), true, time.Minute)
}

func newBatchFixtureWith(t *testing.T, client types.LLMClient, useRefiner bool, taskTimeout time.Duration) *fixture {
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
	synthesizer := New(client, gw, st, refiner)
	metrics := NewRecorder(dir)
	dd := NewDeduplicator(reg, st)

	return &fixture{
		manager:  NewBatchManager(synthesizer, reg, dd, metrics, 3, useRefiner, taskTimeout),
		registry: reg,
		metrics:  metrics,
		logsDir:  dir,
	}
}

func TestEvolveBatchSynthesizesAndRegisters(t *testing.T) {
	f := newBatchFixture(t)
	tasks := []Task{
		{ID: "calc_001", Query: "Calculate the RSI-14 of AAPL"},
		{ID: "calc_007", Query: "Calculate the maximum drawdown of META"},
	}
	report, err := f.manager.EvolveBatch(context.Background(), 1, tasks)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Registered, "results: %+v", report.Results)
	assert.Zero(t, report.Reused)
	assert.Equal(t, 1.0, report.RegistrationRate())
	assert.Contains(t, report.BatchID, "batch_1_")

	rsi, err := f.registry.GetByName("calc_rsi")
	require.NoError(t, err)
	require.NotNil(t, rsi)
	assert.Equal(t, "calc_rsi", rsi.ContractID)
}

func TestEvolveMultiRoundReusesWarmStart(t *testing.T) {
	f := newBatchFixture(t)
	tasks := []Task{{ID: "calc_001", Query: "Calculate the RSI-14 of AAPL"}}

	reports, err := f.manager.EvolveMultiRound(context.Background(), 2, tasks)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, 1, reports[0].Registered)
	assert.Zero(t, reports[0].Reused)

	assert.Equal(t, 1, reports[1].Reused, "second round must hit the warm start")
	assert.Zero(t, reports[1].Synthesized)
	assert.Equal(t, 1.0, reports[1].ReuseRate())
}

func TestEvolveBatchRecordsMetrics(t *testing.T) {
	f := newBatchFixture(t)
	_, err := f.manager.EvolveBatch(context.Background(), 1,
		[]Task{{ID: "calc_001", Query: "Calculate the RSI-14 of AAPL"}})
	require.NoError(t, err)

	rounds, err := f.metrics.Load()
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, 1, rounds[0].RoundNumber)
	assert.Equal(t, 1, rounds[0].TotalTasks)
	assert.GreaterOrEqual(t, rounds[0].RegistryTotal, 1)
}

type stalledClient struct{}

func (stalledClient) Complete(ctx context.Context, prompt string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stalledClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestEvolveBatchTaskTimeout(t *testing.T) {
	f := newBatchFixtureWith(t, stalledClient{}, false, 50*time.Millisecond)
	start := time.Now()
	report, err := f.manager.EvolveBatch(context.Background(), 1,
		[]Task{{ID: "calc_001", Query: "Calculate the RSI-14 of AAPL"}})
	require.NoError(t, err)

	assert.Zero(t, report.Registered)
	require.Len(t, report.Results, 1)
	assert.Contains(t, report.Results[0].Error, "context deadline exceeded")
	assert.Less(t, time.Since(start), 5*time.Second, "a stalled task must not hang the round")
}

func TestSummaryMarkdown(t *testing.T) {
	md := SummaryMarkdown([]RoundMetrics{{
		RoundNumber: 1, BatchID: "batch_1_100", TotalTasks: 4,
		Registered: 3, Reused: 1, RegistrationRate: 0.75, ReuseRate: 0.25,
		RegistryTotal: 5, RegistryActive: 4,
	}})
	assert.Contains(t, md, "| 1 | batch_1_100 | 4 | 3 | 1 |")
	assert.Contains(t, md, "Registry: 5 total, 4 active")
}
