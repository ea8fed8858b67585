package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeussilver/insitu-finance-agent/internal/contracts"
	"github.com/zeussilver/insitu-finance-agent/internal/llm"
	"github.com/zeussilver/insitu-finance-agent/internal/logging"
	"github.com/zeussilver/insitu-finance-agent/internal/store"
	"github.com/zeussilver/insitu-finance-agent/internal/types"
)

// unfixableMarkers identify failures that retrying the model cannot
// repair. The refiner fails fast on these.
var unfixableMarkers = []string{
	"SecurityException",
	"Unallowed import",
	"Unallowed call",
	"Unallowed attribute",
	"TimeoutError",
	"ConnectionError",
	"LLM API Error",
}

// errorPatterns classify a failure and suggest a repair strategy for the
// patch prompt. First match wins.
var errorPatterns = []struct {
	marker    string
	errorType string
	strategy  string
}{
	{"decode input", "input_decode", "Fix the args struct json tags so they match the documented argument names."},
	{"not enough prices", "insufficient_data", "Relax the minimum length requirement or shrink the default period to fit the supplied series."},
	{"index out of range", "index_error", "Guard every slice access with a bounds check before indexing."},
	{"divide", "division_error", "Check denominators for zero before dividing and return a descriptive error."},
	{"nil", "nil_error", "Initialize maps and slices before use and nil-check optional inputs."},
	{"undefined:", "compile_error", "Declare every identifier before use and remove references to undeclared names."},
	{"expected", "syntax_error", "Fix the Go syntax error at the reported location."},
	{"wrong signature", "protocol_error", "Keep Run(input string) (string, error) and SelfTest() error exactly as specified."},
	{"not found", "protocol_error", "Define Run and SelfTest at the top level of package main."},
	{"out of range", "range_error", "Clamp the computed value into its documented range before returning."},
	{"missing required key", "contract_error", "Return a JSON object containing every required output key."},
	{"Contract validation failed", "contract_error", "Match the documented output type exactly, including required keys."},
	{"Self-test failed", "selftest_error", "Fix the implementation until the self-test assertions hold. Do not weaken or remove the assertions."},
}

// RefineRequest carries everything needed to repair one failing tool.
type RefineRequest struct {
	TaskID   string
	Query    string
	Category string
	Code     string
	Contract *contracts.Contract
	Failure  string
}

// Refiner repairs failing tool code through iterative patch prompts.
type Refiner struct {
	client      types.LLMClient
	store       *store.Store
	maxAttempts int
	backoff     time.Duration
}

// NewRefiner builds a refiner with the given attempt budget.
func NewRefiner(client types.LLMClient, st *store.Store, maxAttempts int) *Refiner {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Refiner{client: client, store: st, maxAttempts: maxAttempts, backoff: time.Second}
}

// Unfixable reports whether a failure should not be retried.
func Unfixable(failure string) bool {
	for _, marker := range unfixableMarkers {
		if strings.Contains(failure, marker) {
			return true
		}
	}
	return false
}

// classify maps a failure message to its error type and repair strategy.
func classify(failure string) (string, string) {
	for _, p := range errorPatterns {
		if strings.Contains(failure, p.marker) {
			return p.errorType, p.strategy
		}
	}
	return "unknown", "Re-read the failure message and fix the underlying logic."
}

// Refine produces one repaired candidate for req.Code. It fails fast
// on unfixable errors, sleeps the exponential backoff for attempts
// past the first, and records an error report and patch. An empty code
// return with a nil error means the model produced nothing usable; the
// caller adds the returned strategy to the history and loops, feeding
// each resubmission failure back through req.Failure.
func (r *Refiner) Refine(ctx context.Context, req RefineRequest, attempt int, history []string) (string, string, error) {
	log := logging.Get(logging.CategoryRefiner)

	if Unfixable(req.Failure) {
		log.Warnw("unfixable failure, not retrying", "task_id", req.TaskID, "failure", truncateMiddle(req.Failure, 200))
		return "", "", fmt.Errorf("unfixable failure: %s", truncateMiddle(req.Failure, 200))
	}
	if attempt > 1 {
		time.Sleep(r.backoff * time.Duration(1<<(attempt-1)))
	}

	errorType, strategy := classify(req.Failure)
	rootCause := truncateMiddle(req.Failure, 2000)
	reportID := r.recordError(req.TaskID, errorType, rootCause)

	prompt := buildPatchPrompt(req, rootCause, strategy, history)
	raw, err := r.client.CompleteWithSystem(ctx, llm.SystemPrompt, prompt)
	if err != nil {
		return "", "", err
	}
	gen := llm.CleanProtocol(raw)
	if gen.CodePayload == "" || llm.IsAPIError(gen.CodePayload) {
		return "", strategy, nil
	}

	r.recordPatch(reportID, req.Code, gen.CodePayload, strategy)
	log.Infow("patch generated", "task_id", req.TaskID, "attempt", attempt, "error_type", errorType)
	return gen.CodePayload, strategy, nil
}

func buildPatchPrompt(req RefineRequest, rootCause, strategy string, history []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following tool for task %q failed verification.\n\n", req.Query)
	fmt.Fprintf(&b, "FAILURE:\n%s\n\n", rootCause)
	fmt.Fprintf(&b, "REPAIR STRATEGY: %s\n\n", strategy)
	if req.Contract != nil {
		fmt.Fprintf(&b, "The output must be %s", req.Contract.OutputType)
		if len(req.Contract.RequiredKeys) > 0 {
			fmt.Fprintf(&b, " with keys %v", req.Contract.RequiredKeys)
		}
		b.WriteString(".\n\n")
	}
	if len(history) > 0 {
		b.WriteString("DO NOT REPEAT THESE APPROACHES (they already failed):\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	b.WriteString("Never weaken or delete the SelfTest assertions; fix the implementation instead.\n\n")
	fmt.Fprintf(&b, "CURRENT CODE:\n```go\n%s\n```\n\nReturn the complete repaired file.", req.Code)
	return b.String()
}

func (r *Refiner) recordError(taskID, errorType, rootCause string) int64 {
	if r.store == nil {
		return 0
	}
	traceID := "t_refine_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	_ = r.store.InsertTrace(&types.ExecutionTrace{
		TraceID: traceID, TaskID: taskID, ExitCode: 1,
		Stderr: rootCause, CreatedAt: time.Now(),
	})
	id, err := r.store.InsertErrorReport(&types.ErrorReport{
		TraceID: traceID, ErrorType: errorType, RootCause: rootCause, OccurredAt: time.Now(),
	})
	if err != nil {
		return 0
	}
	return id
}

func (r *Refiner) recordPatch(reportID int64, oldCode, newCode, rationale string) {
	if r.store == nil || reportID == 0 {
		return
	}
	_, _ = r.store.InsertPatch(&types.ToolPatch{
		ErrorReportID: reportID,
		PatchDiff:     fmt.Sprintf("replaced %d bytes with %d bytes", len(oldCode), len(newCode)),
		Rationale:     rationale,
		CreatedAt:     time.Now(),
	})
}

// truncateMiddle keeps the head and tail of long text, eliding the
// middle so both the error site and the final message survive.
func truncateMiddle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	half := (max - 5) / 2
	return s[:half] + "\n...\n" + s[len(s)-half:]
}
