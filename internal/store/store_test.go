package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTool(name, hash string) *types.ToolArtifact {
	return &types.ToolArtifact{
		Name:            name,
		SemanticVersion: "0.1.0",
		FilePath:        "generated/" + name + ".go",
		ContentHash:     hash,
		CodeContent:     "package main",
		ArgsSchema:      map[string]string{"prices": "list"},
		Permissions:     []string{"calc_only"},
		Status:          types.StatusProvisional,
		CreatedAt:       time.Now(),
	}
}

func TestInsertAndGetTool(t *testing.T) {
	s := newTestStore(t)
	id, err := s.InsertTool(sampleTool("calc_rsi", "hash1"))
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetToolByID(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "calc_rsi", got.Name)
	assert.Equal(t, map[string]string{"prices": "list"}, got.ArgsSchema)
	assert.Equal(t, types.StatusProvisional, got.Status)
}

func TestGetToolByHash(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertTool(sampleTool("calc_rsi", "hash1"))
	require.NoError(t, err)

	got, err := s.GetToolByHash("hash1")
	require.NoError(t, err)
	require.NotNil(t, got)

	missing, err := s.GetToolByHash("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestContentHashUnique(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertTool(sampleTool("calc_rsi", "same"))
	require.NoError(t, err)
	_, err = s.InsertTool(sampleTool("calc_rsi_v2", "same"))
	assert.Error(t, err, "duplicate content hash must be rejected")
}

func TestUpdateToolVerificationAndSchema(t *testing.T) {
	s := newTestStore(t)
	id, err := s.InsertTool(sampleTool("calc_rsi", "hash1"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateToolSchema(id, "calculation", "rsi", "price", []string{"prices"}))
	require.NoError(t, s.UpdateToolVerification(id, []string{"calculate"}, "calc_rsi", 3))

	got, err := s.GetToolByID(id)
	require.NoError(t, err)
	assert.Equal(t, "rsi", got.Indicator)
	assert.Equal(t, "calc_rsi", got.ContractID)
	assert.Equal(t, 3, got.VerificationStage)
}

func TestFindToolBySchemaSkipsInactive(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.InsertTool(sampleTool("calc_rsi", "h1"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateToolSchema(id1, "calculation", "rsi", "price", nil))
	require.NoError(t, s.UpdateToolStatus(id1, types.StatusDeprecated))

	id2, err := s.InsertTool(sampleTool("calc_rsi_v2", "h2"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateToolSchema(id2, "calculation", "rsi", "price", nil))

	got, err := s.FindToolBySchema("calculation", "rsi")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id2, got.ID)
}

func TestToolStats(t *testing.T) {
	s := newTestStore(t)
	id1, _ := s.InsertTool(sampleTool("a", "h1"))
	id2, _ := s.InsertTool(sampleTool("b", "h2"))
	_, _ = s.InsertTool(sampleTool("c", "h3"))
	require.NoError(t, s.UpdateToolStatus(id1, types.StatusDeprecated))
	require.NoError(t, s.UpdateToolStatus(id2, types.StatusFailed))

	stats, err := s.GetToolStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Deprecated)
	assert.Equal(t, 1, stats.Failed)
}

func TestTraceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	tr := &types.ExecutionTrace{
		TraceID:         "t_abc123",
		TaskID:          "calc_001",
		InputArgs:       map[string]any{"period": 14.0},
		ExitCode:        0,
		Stdout:          "<<RESULT_START>>\n55\n<<RESULT_END>>",
		ExecutionTimeMS: 12,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.InsertTrace(tr))

	got, err := s.GetTrace("t_abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "calc_001", got.TaskID)
	assert.Equal(t, 14.0, got.InputArgs["period"])

	byTask, err := s.GetTracesByTask("calc_001")
	require.NoError(t, err)
	assert.Len(t, byTask, 1)
}

func TestErrorReportAndPatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertTrace(&types.ExecutionTrace{
		TraceID: "t_fail", TaskID: "calc_002", ExitCode: 1, CreatedAt: time.Now(),
	}))

	reportID, err := s.InsertErrorReport(&types.ErrorReport{
		TraceID: "t_fail", ErrorType: "index_error",
		RootCause: "index out of range", OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	require.NotZero(t, reportID)

	reports, err := s.GetErrorReportsByTrace("t_fail")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "index_error", reports[0].ErrorType)

	patchID, err := s.InsertPatch(&types.ToolPatch{
		ErrorReportID: reportID, PatchDiff: "guard added",
		Rationale: "bounds check", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NotZero(t, patchID)
}

func TestMergeRecords(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertMergeRecord(&types.BatchMergeRecord{
		SourceToolIDs:   []int64{1, 2},
		CanonicalToolID: 3,
		Strategy:        "contract_dedup",
		RegressionStats: map[string]any{"contract_id": "calc_rsi"},
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)

	records, err := s.ListMergeRecords()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), records[0].CanonicalToolID)
	assert.Equal(t, "contract_dedup", records[0].Strategy)
}

func TestDeleteAllTools(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.InsertTool(sampleTool("a", "h1"))
	require.NoError(t, s.DeleteAllTools())
	stats, err := s.GetToolStats()
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}
