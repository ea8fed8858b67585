package synth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

func newDedupFixture(t *testing.T) (*Deduplicator, *registry.Registry, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	reg := registry.New(st, filepath.Join(dir, "bootstrap"), filepath.Join(dir, "generated"))
	return NewDeduplicator(reg, st), reg, st
}

func registerWithStage(t *testing.T, reg *registry.Registry, name, code, contractID string, stage int) *types.ToolArtifact {
	t.Helper()
	tool, err := reg.Register(name, code, registry.RegisterOptions{})
	require.NoError(t, err)
	require.NoError(t, reg.UpdateVerification(tool.ID, []string{"calculate"}, contractID, stage))
	got, err := reg.GetByID(tool.ID)
	require.NoError(t, err)
	return got
}

func TestCheckAndResolveKeepsDeeperVerification(t *testing.T) {
	dd, reg, st := newDedupFixture(t)
	older := registerWithStage(t, reg, "calc_rsi", "package main // a", "calc_rsi", 2)
	newer := registerWithStage(t, reg, "calc_rsi_alt", "package main // b", "calc_rsi", 3)

	resolution, err := dd.CheckAndResolve(newer, "calc_rsi")
	require.NoError(t, err)
	assert.Equal(t, ResolutionKept, resolution)

	deprecated, err := reg.GetByID(older.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeprecated, deprecated.Status)

	records, err := st.ListMergeRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "contract_dedup", records[0].Strategy)
	assert.Equal(t, newer.ID, records[0].CanonicalToolID)
	assert.Equal(t, "calc_rsi", records[0].RegressionStats["contract_id"])
}

func TestCheckAndResolveSupersededByBetterRival(t *testing.T) {
	dd, reg, _ := newDedupFixture(t)
	champion := registerWithStage(t, reg, "calc_rsi", "package main // champ", "calc_rsi", 3)
	challenger := registerWithStage(t, reg, "calc_rsi_alt", "package main // weak", "calc_rsi", 2)

	resolution, err := dd.CheckAndResolve(challenger, "calc_rsi")
	require.NoError(t, err)
	assert.Equal(t, ResolutionSuperseded, resolution)

	kept, err := reg.GetByID(champion.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProvisional, kept.Status)

	loser, err := reg.GetByID(challenger.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDeprecated, loser.Status)
}

func TestCheckAndResolveNoRivals(t *testing.T) {
	dd, reg, _ := newDedupFixture(t)
	only := registerWithStage(t, reg, "calc_rsi", "package main", "calc_rsi", 3)
	resolution, err := dd.CheckAndResolve(only, "calc_rsi")
	require.NoError(t, err)
	assert.Equal(t, ResolutionNoAction, resolution)
}

func TestScoreOrdering(t *testing.T) {
	deep := score{stage: 3, successRate: 1.0, version: "0.1.0"}
	shallow := score{stage: 2, successRate: 1.0, version: "0.9.0"}
	assert.True(t, deep.betterThan(shallow), "verification depth dominates version")

	newer := score{stage: 3, successRate: 1.0, version: "0.1.1"}
	older := score{stage: 3, successRate: 1.0, version: "0.1.0"}
	assert.True(t, newer.betterThan(older), "version breaks ties")
}
