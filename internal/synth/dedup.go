package synth

import (
	"time"

	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// Resolution is the dedup outcome for a candidate tool.
type Resolution string

const (
	ResolutionKept       Resolution = "kept"       // candidate won, rivals deprecated
	ResolutionSuperseded Resolution = "superseded" // an existing tool won
	ResolutionNoAction   Resolution = "no_action"  // nothing to compare against
)

// Deduplicator keeps one canonical tool per contract, deprecating the
// rest after each batch.
type Deduplicator struct {
	registry *registry.Registry
	store    *store.Store
}

// NewDeduplicator builds a deduplicator.
func NewDeduplicator(reg *registry.Registry, st *store.Store) *Deduplicator {
	return &Deduplicator{registry: reg, store: st}
}

// score ranks a tool: verification depth first, then lifecycle standing,
// then execution speed (neutral until measured), then version.
type score struct {
	stage       int
	successRate float64
	negAvgTime  float64
	version     string
}

func scoreTool(t *types.ToolArtifact) score {
	rate := 0.5
	if t.Status == types.StatusProvisional {
		rate = 1.0
	}
	return score{stage: t.VerificationStage, successRate: rate, negAvgTime: 0.0, version: t.SemanticVersion}
}

func (a score) betterThan(b score) bool {
	if a.stage != b.stage {
		return a.stage > b.stage
	}
	if a.successRate != b.successRate {
		return a.successRate > b.successRate
	}
	if a.negAvgTime != b.negAvgTime {
		return a.negAvgTime > b.negAvgTime
	}
	return compareSemver(a.version, b.version) > 0
}

// CheckAndResolve compares the candidate against every active tool
// registered under the same contract and deprecates the losers. A merge
// record documents each decision.
func (d *Deduplicator) CheckAndResolve(tool *types.ToolArtifact, contractID string) (Resolution, error) {
	if contractID == "" || tool == nil {
		return ResolutionNoAction, nil
	}

	rivals, err := d.registry.FindByContractID(contractID)
	if err != nil {
		return ResolutionNoAction, err
	}

	best := tool
	bestScore := scoreTool(tool)
	var candidates []*types.ToolArtifact
	for _, r := range rivals {
		if r.ID == tool.ID || r.Status == types.StatusDeprecated || r.Status == types.StatusFailed {
			continue
		}
		candidates = append(candidates, r)
		if s := scoreTool(r); s.betterThan(bestScore) {
			best, bestScore = r, s
		}
	}
	if len(candidates) == 0 {
		return ResolutionNoAction, nil
	}

	var deprecated []int64
	for _, r := range append(candidates, tool) {
		if r.ID == best.ID {
			continue
		}
		if err := d.registry.UpdateStatus(r.ID, types.StatusDeprecated); err != nil {
			return ResolutionNoAction, err
		}
		deprecated = append(deprecated, r.ID)
	}

	if len(deprecated) > 0 && d.store != nil {
		_, _ = d.store.InsertMergeRecord(&types.BatchMergeRecord{
			SourceToolIDs:   deprecated,
			CanonicalToolID: best.ID,
			Strategy:        "contract_dedup",
			RegressionStats: map[string]any{
				"contract_id":       contractID,
				"deprecated_count":  len(deprecated),
				"kept_tool_name":    best.Name,
				"kept_tool_version": best.SemanticVersion,
			},
			CreatedAt: time.Now(),
		})
	}

	logging.Get(logging.CategoryBatch).Infow("dedup resolved",
		"contract", contractID, "kept", best.Name, "deprecated", len(deprecated))

	if best.ID == tool.ID {
		return ResolutionKept, nil
	}
	return ResolutionSuperseded, nil
}

func compareSemver(a, b string) int {
	pa, pb := splitSemver(a), splitSemver(b)
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			return pa[i] - pb[i]
		}
	}
	return 0
}

func splitSemver(v string) [3]int {
	var out [3]int
	idx := 0
	n := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == '.' {
			if idx < 3 {
				out[idx] = n
				idx++
			}
			n = 0
			continue
		}
		if v[i] >= '0' && v[i] <= '9' {
			n = n*10 + int(v[i]-'0')
		}
	}
	return out
}
