// Package synth turns natural-language task queries into verified,
// registered tools: single-shot synthesis, error-driven refinement,
// batched multi-round evolution, and contract-level deduplication.
package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeussilver/insitu-finance-agent/internal/contracts"
	"github.com/zeussilver/insitu-finance-agent/internal/gateway"
	"github.com/zeussilver/insitu-finance-agent/internal/llm"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/toolsrc"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
	"github.com/zeussilver/insitu-finance-agent/internal/verifier"
)

// Synthesizer generates tools from task queries.
type Synthesizer struct {
	client  types.LLMClient
	gateway *gateway.Gateway
	store   *store.Store
	refiner *Refiner
}

// New builds a synthesizer. refiner may be nil to disable repair.
func New(client types.LLMClient, gw *gateway.Gateway, st *store.Store, refiner *Refiner) *Synthesizer {
	return &Synthesizer{client: client, gateway: gw, store: st, refiner: refiner}
}

// Outcome is the result of one synthesis attempt.
type Outcome struct {
	Tool     *types.ToolArtifact
	Report   *verifier.Report
	Code     string
	Refined  bool
	Category string
	Contract *contracts.Contract
	Err      error
}

// Synthesize generates, verifies, and registers a tool for the query.
func (s *Synthesizer) Synthesize(ctx context.Context, taskID, query string) *Outcome {
	return s.synthesize(ctx, taskID, query, "")
}

// SynthesizeWithRetry regenerates from scratch on failure, feeding the
// previous failure text back to the model as error context. Unlike the
// refiner it never patches the failing code.
func (s *Synthesizer) SynthesizeWithRetry(ctx context.Context, taskID, query string, maxAttempts int) *Outcome {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	out := s.synthesize(ctx, taskID, query, "")
	for attempt := 2; attempt <= maxAttempts && out.Err != nil; attempt++ {
		logging.Get(logging.CategorySynth).Infow("retrying synthesis",
			"task_id", taskID, "attempt", attempt, "previous_error", out.Err.Error())
		out = s.synthesize(ctx, taskID, query, out.Err.Error())
	}
	return out
}

func (s *Synthesizer) synthesize(ctx context.Context, taskID, query, errContext string) *Outcome {
	log := logging.Get(logging.CategorySynth)
	timer := logging.StartTimer(logging.CategorySynth, "synthesize_"+taskID)
	defer timer.Stop()

	category := toolsrc.InferCategory(query)
	contract := contracts.ForTask(taskID)
	if contract == nil {
		contract = contracts.InferFromQuery(query, category)
	}
	if contract != nil && contract.Category != "" {
		category = contract.Category
	}

	code, err := s.generate(ctx, query, category, contract, errContext)
	if err != nil {
		return &Outcome{Category: category, Contract: contract, Err: err}
	}

	result := s.gateway.Submit(ctx, gateway.SubmitRequest{
		Code:     code,
		Category: category,
		TaskID:   taskID,
		Query:    query,
		Contract: contract,
	})
	out := &Outcome{
		Tool: result.Tool, Report: result.Report, Code: code,
		Category: category, Contract: contract, Err: result.Err,
	}
	s.recordTrace(taskID, result.Report)
	if result.Err != nil {
		log.Warnw("synthesis failed", "task_id", taskID, "error", result.Err)
		return out
	}
	log.Infow("synthesized tool", "task_id", taskID, "tool", result.Tool.Name,
		"version", result.Tool.SemanticVersion, "final_stage", result.Report.FinalStage.Name())
	return out
}

// SynthesizeWithRefine synthesizes and, on verification failure, runs
// the repair loop: each patched candidate is resubmitted through the
// gateway and each resubmission failure feeds the next patch prompt,
// until the tool registers or the refiner's attempt budget runs out.
func (s *Synthesizer) SynthesizeWithRefine(ctx context.Context, taskID, query string) *Outcome {
	out := s.Synthesize(ctx, taskID, query)
	if out.Err == nil || s.refiner == nil || out.Code == "" {
		return out
	}
	log := logging.Get(logging.CategorySynth)

	req := RefineRequest{
		TaskID:   taskID,
		Query:    query,
		Category: out.Category,
		Code:     out.Code,
		Contract: out.Contract,
		Failure:  out.Err.Error(),
	}
	var history []string
	for attempt := 1; attempt <= s.refiner.maxAttempts; attempt++ {
		patched, strategy, err := s.refiner.Refine(ctx, req, attempt, history)
		if err != nil {
			log.Warnw("refinement failed", "task_id", taskID, "attempt", attempt, "error", err)
			return out
		}
		if patched == "" {
			history = append(history, strategy)
			req.Failure = "model returned no usable code"
			continue
		}

		result := s.gateway.Submit(ctx, gateway.SubmitRequest{
			Code:     patched,
			Category: out.Category,
			TaskID:   taskID,
			Query:    query,
			Contract: out.Contract,
		})
		s.recordTrace(taskID, result.Report)
		if result.Err == nil {
			log.Infow("repaired tool registered", "task_id", taskID,
				"tool", result.Tool.Name, "attempt", attempt)
			return &Outcome{
				Tool: result.Tool, Report: result.Report, Code: patched,
				Refined: true, Category: out.Category, Contract: out.Contract,
			}
		}

		log.Warnw("repaired code failed verification",
			"task_id", taskID, "attempt", attempt, "error", result.Err)
		history = append(history, strategy)
		req.Code = patched
		req.Failure = result.Err.Error()
		out.Code = patched
		out.Report = result.Report
		out.Err = result.Err
	}
	return out
}

func (s *Synthesizer) generate(ctx context.Context, query, category string, contract *contracts.Contract, errContext string) (string, error) {
	prompt := buildUserPrompt(query, category, contract, errContext)
	raw, err := s.client.CompleteWithSystem(ctx, llm.SystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	gen := llm.CleanProtocol(raw)
	if gen.CodePayload == "" {
		return "", fmt.Errorf("model response contained no code")
	}
	if llm.IsAPIError(gen.CodePayload) {
		return "", fmt.Errorf("%s", gen.CodePayload)
	}
	return gen.CodePayload, nil
}

func buildUserPrompt(query, category string, contract *contracts.Contract, errContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nTool category: %s\n", query, category)
	if contract != nil {
		fmt.Fprintf(&b, "Expected inputs: %v\nExpected output type: %s\n",
			contract.InputTypes, contract.OutputType)
		if len(contract.RequiredKeys) > 0 {
			fmt.Fprintf(&b, "Required output keys: %v\n", contract.RequiredKeys)
		}
	}
	if errContext != "" {
		fmt.Fprintf(&b, "PREVIOUS ATTEMPT FAILED:\n%s\nDo not repeat the same mistake.\n", errContext)
	}
	b.WriteString("Generate the tool now.")
	return b.String()
}

func (s *Synthesizer) recordTrace(taskID string, report *verifier.Report) {
	if s.store == nil || report == nil {
		return
	}
	exitCode := 0
	stderr := ""
	if !report.Passed {
		exitCode = 1
		stderr = strings.Join(report.FailureMessages(), "; ")
	}
	_ = s.store.InsertTrace(&types.ExecutionTrace{
		TraceID:   fmt.Sprintf("t_synth_%d", time.Now().UnixNano()),
		TaskID:    taskID,
		ExitCode:  exitCode,
		Stderr:    stderr,
		CreatedAt: time.Now(),
	})
}
