package synth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zeussilver/insitu-finance-agent/internal/contracts"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/registry"
	"github.com/zeussilver/insitu-finance-agent/internal/toolsrc"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// Task is one synthesis request in a batch.
type Task struct {
	ID    string `json:"task_id"`
	Query string `json:"query"`
}

// EvolutionResult records the outcome of one task in a batch round.
type EvolutionResult struct {
	TaskID          string     `json:"task_id"`
	Query           string     `json:"query"`
	ToolName        string     `json:"tool_name,omitempty"`
	ToolID          int64      `json:"tool_id,omitempty"`
	ContractID      string     `json:"contract_id,omitempty"`
	Success         bool       `json:"success"`
	Reused          bool       `json:"reused"`
	Refined         bool       `json:"refined"`
	DedupResolution Resolution `json:"dedup_resolution,omitempty"`
	Error           string     `json:"error,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
	FailedStage     string     `json:"failed_stage,omitempty"`
}

// BatchReport aggregates one evolution round.
type BatchReport struct {
	BatchID     string            `json:"batch_id"`
	Round       int               `json:"round"`
	Results     []EvolutionResult `json:"results"`
	Total       int               `json:"total"`
	Synthesized int               `json:"synthesized"`
	Registered  int               `json:"registered"`
	Reused      int               `json:"reused"`
	DedupMerged int               `json:"dedup_merged"`
	StartedAt   time.Time         `json:"started_at"`
	DurationMS  int64             `json:"duration_ms"`
}

// SynthesisRate is the share of tasks that produced working code.
func (r *BatchReport) SynthesisRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Synthesized) / float64(r.Total)
}

// RegistrationRate is the share of tasks that ended with a registered tool.
func (r *BatchReport) RegistrationRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Registered) / float64(r.Total)
}

// ReuseRate is the share of tasks served by an existing tool.
func (r *BatchReport) ReuseRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Reused) / float64(r.Total)
}

// BatchManager runs parallel synthesis rounds with warm-start reuse and
// post-round deduplication.
type BatchManager struct {
	synthesizer *Synthesizer
	registry    *registry.Registry
	dedup       *Deduplicator
	metrics     *Recorder
	maxWorkers  int64
	useRefiner  bool
	taskTimeout time.Duration
}

// NewBatchManager builds a batch manager. metrics may be nil.
// taskTimeout bounds one task end to end, so a hung model or
// interpreter call cannot stall the whole round; <= 0 selects a
// 5-minute default.
func NewBatchManager(s *Synthesizer, reg *registry.Registry, dd *Deduplicator, metrics *Recorder, maxWorkers int, useRefiner bool, taskTimeout time.Duration) *BatchManager {
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Minute
	}
	return &BatchManager{
		synthesizer: s, registry: reg, dedup: dd, metrics: metrics,
		maxWorkers: int64(maxWorkers), useRefiner: useRefiner,
		taskTimeout: taskTimeout,
	}
}

// EvolveBatch runs one round: parallel synthesis with reuse, then dedup,
// then metrics.
func (m *BatchManager) EvolveBatch(ctx context.Context, round int, tasks []Task) (*BatchReport, error) {
	report := &BatchReport{
		BatchID:   fmt.Sprintf("batch_%d_%d", round, time.Now().Unix()),
		Round:     round,
		Total:     len(tasks),
		Results:   make([]EvolutionResult, len(tasks)),
		StartedAt: time.Now(),
	}
	log := logging.Get(logging.CategoryBatch)
	log.Infow("batch started", "batch_id", report.BatchID, "tasks", len(tasks))

	sem := semaphore.NewWeighted(m.maxWorkers)
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			report.Results[i] = m.runTask(gctx, task)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for i := range report.Results {
		res := &report.Results[i]
		if res.Success {
			report.Registered++
			if res.Reused {
				report.Reused++
			} else {
				report.Synthesized++
			}
		}
		if res.Success && !res.Reused && m.dedup != nil && res.ContractID != "" {
			tool, err := m.registry.GetByID(res.ToolID)
			if err == nil && tool != nil {
				resolution, err := m.dedup.CheckAndResolve(tool, res.ContractID)
				if err == nil {
					res.DedupResolution = resolution
					if resolution != ResolutionNoAction {
						report.DedupMerged++
					}
				}
			}
		}
	}

	report.DurationMS = time.Since(report.StartedAt).Milliseconds()
	if m.metrics != nil {
		if err := m.metrics.RecordBatch(report, m.registry); err != nil {
			log.Warnw("metrics record failed", "error", err)
		}
	}
	log.Infow("batch finished", "batch_id", report.BatchID,
		"registered", report.Registered, "reused", report.Reused,
		"dedup_merged", report.DedupMerged, "duration_ms", report.DurationMS)
	return report, nil
}

// EvolveMultiRound runs the same task set for several rounds; later
// rounds should mostly hit warm-start reuse.
func (m *BatchManager) EvolveMultiRound(ctx context.Context, rounds int, tasks []Task) ([]*BatchReport, error) {
	var reports []*BatchReport
	for round := 1; round <= rounds; round++ {
		report, err := m.EvolveBatch(ctx, round, tasks)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (m *BatchManager) runTask(ctx context.Context, task Task) EvolutionResult {
	ctx, cancel := context.WithTimeout(ctx, m.taskTimeout)
	defer cancel()

	start := time.Now()
	res := EvolutionResult{TaskID: task.ID, Query: task.Query}

	if existing := m.findExisting(task); existing != nil {
		res.Success = true
		res.Reused = true
		res.ToolName = existing.Name
		res.ToolID = existing.ID
		res.ContractID = existing.ContractID
		res.DurationMS = time.Since(start).Milliseconds()
		logging.Get(logging.CategoryBatch).Infow("warm-start reuse",
			"task_id", task.ID, "tool", existing.Name)
		return res
	}

	var out *Outcome
	if m.useRefiner {
		out = m.synthesizer.SynthesizeWithRefine(ctx, task.ID, task.Query)
	} else {
		out = m.synthesizer.Synthesize(ctx, task.ID, task.Query)
	}
	res.DurationMS = time.Since(start).Milliseconds()
	res.Refined = out.Refined
	if out.Contract != nil {
		res.ContractID = out.Contract.ID
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
		if out.Report != nil {
			res.FailedStage = out.Report.FinalStage.Name()
		}
		return res
	}
	res.Success = true
	res.ToolName = out.Tool.Name
	res.ToolID = out.Tool.ID
	return res
}

// findExisting resolves warm-start reuse: an active tool already
// registered under the task's contract, or failing that a schema match
// on category and indicator.
func (m *BatchManager) findExisting(task Task) *types.ToolArtifact {
	contract := contracts.ForTask(task.ID)
	if contract == nil {
		contract = contracts.InferFromQuery(task.Query, toolsrc.InferCategory(task.Query))
	}
	if contract != nil {
		tools, err := m.registry.FindByContractID(contract.ID)
		if err == nil {
			for _, t := range tools {
				if t.Status != types.StatusDeprecated && t.Status != types.StatusFailed {
					return t
				}
			}
		}
	}
	category := toolsrc.InferCategory(task.Query)
	indicator := toolsrc.InferIndicator(task.Query)
	if indicator != "" {
		if t, err := m.registry.FindBySchema(category, indicator); err == nil && t != nil {
			return t
		}
	}
	return nil
}
